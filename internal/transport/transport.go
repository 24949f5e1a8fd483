// Package transport defines the publish channels transform messages leave on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// Durability selects what late subscribers receive.
type Durability uint8

const (
	// Volatile delivers only messages published after a subscriber joins.
	Volatile Durability = iota
	// TransientLocal retains the last message and replays it to late subscribers.
	TransientLocal
)

func (d Durability) String() string {
	if d == TransientLocal {
		return "transient_local"
	}
	return "volatile"
}

// ParseDurability converts a config value.
func ParseDurability(s string) (Durability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "transient_local", "transient-local":
		return TransientLocal, nil
	case "volatile":
		return Volatile, nil
	default:
		return 0, fmt.Errorf("unknown durability %q", s)
	}
}

// ErrClosed is returned by publishers whose transport has shut down.
var ErrClosed = errors.New("transport closed")

// Publisher sends transform messages on one topic.
// Publish is synchronous: it succeeds or fails immediately, without retry.
type Publisher interface {
	Publish(ctx context.Context, msg core.TransformMessage) error
}

// Bus creates topic publishers.
type Bus interface {
	Publisher(topic string, durability Durability) (Publisher, error)
	Close() error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg core.TransformMessage) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msg core.TransformMessage) error {
	return f(ctx, msg)
}
