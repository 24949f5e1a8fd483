// Package broadcast periodically republishes static frames on a durable channel.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/teachingmarkers/internal/clock"
	"github.com/OCAP2/teachingmarkers/internal/registry"
	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

const instrumentationName = "github.com/OCAP2/teachingmarkers/internal/broadcast"

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// ErrClock is returned when a tick cannot obtain a timestamp.
var ErrClock = errors.New("broadcast clock failure")

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats is a point-in-time view of broadcaster counters.
type Stats struct {
	Ticks    uint64 `json:"ticks"`
	Failures uint64 `json:"failures"`
	LastSize int    `json:"lastSize"`
}

// Broadcaster snapshots the registry on every tick and publishes the
// inactive frames as one message.
type Broadcaster struct {
	registry *registry.Registry
	pub      transport.Publisher
	clock    clock.Clock
	logger   Logger
	interval time.Duration

	ticks    atomic.Uint64
	failures atomic.Uint64
	lastSize atomic.Int64

	publishedFrames metric.Int64Counter
	publishFailures metric.Int64Counter
}

// New creates a broadcaster. A non-positive interval selects DefaultInterval
// and a nil clock selects the system clock.
func New(reg *registry.Registry, pub transport.Publisher, c clock.Clock, logger Logger, interval time.Duration) (*Broadcaster, error) {
	if reg == nil || pub == nil {
		return nil, errors.New("broadcast: registry and publisher are required")
	}
	if c == nil {
		c = clock.System{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	b := &Broadcaster{
		registry: reg,
		pub:      pub,
		clock:    c,
		logger:   logger,
		interval: interval,
	}

	m := otel.Meter(instrumentationName)
	var err error
	b.publishedFrames, err = m.Int64Counter(
		"broadcast.frames.published",
		metric.WithDescription("Total static frame records published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	b.publishFailures, err = m.Int64Counter(
		"broadcast.publish.failures",
		metric.WithDescription("Total broadcast publish calls that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	return b, nil
}

// Interval returns the tick period.
func (b *Broadcaster) Interval() time.Duration {
	return b.interval
}

// Tick performs one broadcast iteration and returns the message it built.
// Publish failures are logged and not returned; only a clock failure is.
func (b *Broadcaster) Tick(ctx context.Context) (core.TransformMessage, error) {
	stamp, err := b.clock.Now()
	if err != nil {
		return core.TransformMessage{}, fmt.Errorf("%w: %w", ErrClock, err)
	}

	frames := registry.Static(b.registry.Snapshot())
	msg := core.TransformMessage{Transforms: make([]core.TransformStamped, 0, len(frames))}
	for _, f := range frames {
		msg.Transforms = append(msg.Transforms, f.Stamped(stamp))
	}

	b.ticks.Add(1)
	b.lastSize.Store(int64(len(msg.Transforms)))

	if err := b.pub.Publish(ctx, msg); err != nil {
		b.failures.Add(1)
		b.publishFailures.Add(ctx, 1)
		b.logger.Error("static broadcast failed", "frames", len(msg.Transforms), "error", err)
		return msg, nil
	}
	b.publishedFrames.Add(ctx, int64(len(msg.Transforms)))
	return msg, nil
}

// Run ticks until ctx is cancelled or the clock fails.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("static broadcaster started", "interval", b.interval.String())

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("static broadcaster stopped")
			return nil
		case <-ticker.C:
			if _, err := b.Tick(ctx); err != nil {
				b.logger.Error("static broadcaster aborted", "error", err)
				return err
			}
		}
	}
}

// Stats returns the current counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Ticks:    b.ticks.Load(),
		Failures: b.failures.Load(),
		LastSize: int(b.lastSize.Load()),
	}
}
