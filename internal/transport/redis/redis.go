// Package redis carries transform topics over Redis pub/sub. Transient-local
// topics also keep their last message under a key so late subscribers can
// read it before subscribing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// DefaultPrefix namespaces keys and channels.
const DefaultPrefix = "teachingmarkers"

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Bus publishes transform messages on Redis channels.
type Bus struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	topics map[string]transport.Durability
	closed bool
}

// New creates a bus on an existing client.
func New(client *redis.Client, prefix string) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{
		client: client,
		prefix: prefix,
		topics: make(map[string]transport.Durability),
	}
}

// Channel is the pub/sub channel of a topic.
func (b *Bus) Channel(topic string) string {
	return b.prefix + ":topic:" + topic
}

// LastKey holds the retained message of a transient-local topic.
func (b *Bus) LastKey(topic string) string {
	return b.prefix + ":last:" + topic
}

// Publisher returns a publisher for topic.
func (b *Bus) Publisher(topic string, d transport.Durability) (transport.Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	if existing, ok := b.topics[topic]; ok && existing != d {
		return nil, fmt.Errorf("topic %s already declared %s, requested %s", topic, existing, d)
	}
	b.topics[topic] = d
	return &publisher{bus: b, topic: topic, durability: d}, nil
}

type publisher struct {
	bus        *Bus
	topic      string
	durability transport.Durability
}

// Publish stores the message for late joiners when durable, then publishes
// it in the same transaction.
func (p *publisher) Publish(ctx context.Context, msg core.TransformMessage) error {
	if p.bus.isClosed() {
		return transport.ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transform message: %w", err)
	}

	if p.durability != transport.TransientLocal {
		return p.bus.client.Publish(ctx, p.bus.Channel(p.topic), data).Err()
	}

	_, err = p.bus.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.bus.LastKey(p.topic), data, 0)
		pipe.Publish(ctx, p.bus.Channel(p.topic), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// Last reads the retained message of a topic.
func (b *Bus) Last(ctx context.Context, topic string) (core.TransformMessage, bool, error) {
	data, err := b.client.Get(ctx, b.LastKey(topic)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.TransformMessage{}, false, nil
	}
	if err != nil {
		return core.TransformMessage{}, false, err
	}
	var msg core.TransformMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return core.TransformMessage{}, false, fmt.Errorf("decode last %s: %w", topic, err)
	}
	return msg, true, nil
}

// Subscribe delivers messages published on topic, preceded by the retained
// message when there is one. The channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan core.TransformMessage, error) {
	sub := b.client.Subscribe(ctx, b.Channel(topic))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan core.TransformMessage, 16)
	last, ok, err := b.Last(ctx, topic)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	if ok {
		out <- last
	}

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, open := <-ch:
				if !open {
					return
				}
				var msg core.TransformMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close closes the underlying client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.client.Close()
}
