// Package relay hands transform messages from feedback producers to a single
// publishing goroutine, in arrival order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/teachingmarkers/internal/queue"
	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

var (
	// ErrQueueFull is returned by Enqueue under PolicyReject when the queue is at capacity.
	ErrQueueFull = errors.New("relay queue full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("relay closed")
)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Policy decides what Enqueue does when a bounded queue is full.
type Policy uint8

const (
	// PolicyBlock makes the producer wait for room.
	PolicyBlock Policy = iota
	// PolicyReject drops the new message and returns ErrQueueFull.
	PolicyReject
	// PolicyDropOldest discards the oldest queued message to make room.
	PolicyDropOldest
)

func (p Policy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	case PolicyDropOldest:
		return "drop_oldest"
	default:
		return "block"
	}
}

// ParsePolicy converts a config value.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return PolicyBlock, nil
	case "reject", "drop_new":
		return PolicyReject, nil
	case "drop_oldest", "drop-oldest":
		return PolicyDropOldest, nil
	default:
		return 0, fmt.Errorf("unknown relay policy %q", s)
	}
}

// Config sizes the relay queue. Capacity <= 0 means unbounded.
type Config struct {
	Capacity int
	Policy   Policy
}

// DefaultConfig is a bounded queue that applies backpressure.
func DefaultConfig() Config {
	return Config{Capacity: 4096, Policy: PolicyBlock}
}

// Entry is a message waiting to be published, tagged with its marker.
type Entry struct {
	Marker   string
	Message  core.TransformMessage
	Enqueued time.Time
}

// Stats is a point-in-time view of relay counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// Relay is a multi-producer, single-consumer FIFO in front of a Publisher.
// Entries are published one at a time in the order they were accepted;
// nothing is coalesced.
type Relay struct {
	pub    transport.Publisher
	logger Logger
	cfg    Config

	bounded   chan Entry
	unbounded *queue.Queue[Entry]
	stop      chan struct{}
	finished  chan struct{}

	mu     sync.RWMutex
	closed bool

	enqueued  atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	inst instruments
}

// New creates a relay and starts its consumer goroutine.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(pub transport.Publisher, logger Logger, cfg Config) (*Relay, error) {
	if pub == nil {
		return nil, errors.New("relay: nil publisher")
	}
	r := &Relay{
		pub:      pub,
		logger:   logger,
		cfg:      cfg,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	if err := r.inst.init(r.Len); err != nil {
		return nil, err
	}

	if cfg.Capacity > 0 {
		r.bounded = make(chan Entry, cfg.Capacity)
		go r.runBounded()
	} else {
		r.unbounded = queue.New[Entry]()
		go r.runUnbounded()
	}
	return r, nil
}

// Enqueue accepts a message for publication. It never waits on the network;
// under PolicyBlock it waits only while a bounded queue is full.
func (r *Relay) Enqueue(marker string, msg core.TransformMessage) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	e := Entry{Marker: marker, Message: msg, Enqueued: time.Now()}

	if r.unbounded != nil {
		r.unbounded.Push(e)
		r.accepted(marker)
		return nil
	}

	switch r.cfg.Policy {
	case PolicyReject:
		select {
		case r.bounded <- e:
		default:
			r.drop(marker, "queue full")
			return fmt.Errorf("%w: marker %s", ErrQueueFull, marker)
		}
	case PolicyDropOldest:
		for {
			select {
			case r.bounded <- e:
				r.accepted(marker)
				return nil
			default:
			}
			select {
			case old := <-r.bounded:
				r.drop(old.Marker, "evicted")
			default:
			}
		}
	default:
		r.bounded <- e
	}
	r.accepted(marker)
	return nil
}

func (r *Relay) accepted(marker string) {
	r.enqueued.Add(1)
	r.inst.enqueued.Add(context.Background(), 1, metric.WithAttributes(attribute.String("marker", marker)))
}

func (r *Relay) drop(marker, reason string) {
	r.dropped.Add(1)
	r.inst.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("marker", marker)))
	r.logger.Debug("relay dropped message", "marker", marker, "reason", reason)
}

func (r *Relay) runBounded() {
	defer close(r.finished)
	for e := range r.bounded {
		r.publish(e)
	}
}

func (r *Relay) runUnbounded() {
	defer close(r.finished)
	for {
		for {
			e, ok := r.unbounded.TryPop()
			if !ok {
				break
			}
			r.publish(e)
		}
		select {
		case <-r.unbounded.Ready():
		case <-r.stop:
			for _, e := range r.unbounded.Drain() {
				r.publish(e)
			}
			return
		}
	}
}

// publish sends one entry. Failures are logged and the entry is dropped.
func (r *Relay) publish(e Entry) {
	attrs := metric.WithAttributes(attribute.String("marker", e.Marker))
	if err := r.pub.Publish(context.Background(), e.Message); err != nil {
		r.failed.Add(1)
		r.inst.failures.Add(context.Background(), 1, attrs)
		r.logger.Error("relay failed to publish", "marker", e.Marker, "error", err)
		return
	}
	r.published.Add(1)
	r.inst.published.Add(context.Background(), 1, attrs)
	r.inst.latency.Record(context.Background(), float64(time.Since(e.Enqueued).Microseconds())/1000, attrs)
}

// Len returns the number of queued entries.
func (r *Relay) Len() int {
	if r.unbounded != nil {
		return r.unbounded.Len()
	}
	return len(r.bounded)
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Enqueued:  r.enqueued.Load(),
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
		Queued:    r.Len(),
	}
}

// Close stops accepting messages and waits until everything already queued
// has been handed to the publisher.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.finished
		return nil
	}
	r.closed = true
	if r.bounded != nil {
		close(r.bounded)
	} else {
		close(r.stop)
	}
	r.mu.Unlock()

	<-r.finished
	r.inst.close()
	return nil
}
