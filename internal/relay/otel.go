package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/teachingmarkers/internal/relay"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	queueSize metric.Int64ObservableGauge
	enqueued  metric.Int64Counter
	published metric.Int64Counter
	dropped   metric.Int64Counter
	failures  metric.Int64Counter
	latency   metric.Float64Histogram

	reg metric.Registration
}

func (i *instruments) init(queueLen func() int) error {
	m := meter()

	var err error
	i.queueSize, err = m.Int64ObservableGauge(
		"relay.queue.size",
		metric.WithDescription("Current number of messages waiting to be published"),
	)
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}

	i.reg, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(i.queueSize, int64(queueLen()))
			return nil
		},
		i.queueSize,
	)
	if err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	i.enqueued, err = m.Int64Counter(
		"relay.messages.enqueued",
		metric.WithDescription("Total messages accepted by the relay"),
	)
	if err != nil {
		return fmt.Errorf("creating enqueued counter: %w", err)
	}

	i.published, err = m.Int64Counter(
		"relay.messages.published",
		metric.WithDescription("Total messages published"),
	)
	if err != nil {
		return fmt.Errorf("creating published counter: %w", err)
	}

	i.dropped, err = m.Int64Counter(
		"relay.messages.dropped",
		metric.WithDescription("Total messages dropped by the backpressure policy"),
	)
	if err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}

	i.failures, err = m.Int64Counter(
		"relay.publish.failures",
		metric.WithDescription("Total publish calls that returned an error"),
	)
	if err != nil {
		return fmt.Errorf("creating failures counter: %w", err)
	}

	i.latency, err = m.Float64Histogram(
		"relay.publish.latency",
		metric.WithDescription("Time from enqueue to successful publish"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("creating latency histogram: %w", err)
	}

	return nil
}

func (i *instruments) close() {
	if i.reg != nil {
		_ = i.reg.Unregister()
	}
}
