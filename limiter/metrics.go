package limiter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts limiter decisions as OTel instruments.
type Metrics struct {
	decisions metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	decisions, err := meter.Int64Counter(
		"limiter_decisions_total",
		metric.WithDescription("Rate limit decisions by limiter and result (allowed, rejected, fail_open)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register limiter_decisions_total: %w", err)
	}
	return &Metrics{decisions: decisions}, nil
}

func (m *Metrics) record(limiter string, d Decision) {
	result := "allowed"
	switch {
	case d.FailOpen:
		result = "fail_open"
	case !d.Allowed:
		result = "rejected"
	}
	m.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("limiter", limiter),
		attribute.String("result", result),
	))
}

// Instrument attaches decision counters and a tracked-keys gauge.
func (f *FixedWindow) Instrument(meter metric.Meter) error {
	if f.metrics.Load() != nil {
		return nil
	}
	m, err := newMetrics(meter)
	if err != nil {
		return err
	}
	_, err = meter.Int64ObservableGauge(
		"limiter_windows",
		metric.WithDescription("Tracked rate limit windows"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(f.Len()), metric.WithAttributes(attribute.String("limiter", "local")))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register limiter_windows: %w", err)
	}
	f.metrics.CompareAndSwap(nil, m)
	return nil
}

// Instrument attaches decision counters.
func (c *Coordinator) Instrument(meter metric.Meter) error {
	if c.metrics.Load() != nil {
		return nil
	}
	m, err := newMetrics(meter)
	if err != nil {
		return err
	}
	c.metrics.CompareAndSwap(nil, m)
	return nil
}

// Instrument attaches decision counters and a pending-table gauge.
func (d *DistributedLimiter) Instrument(meter metric.Meter) error {
	if d.metrics.Load() != nil {
		return nil
	}
	m, err := newMetrics(meter)
	if err != nil {
		return err
	}
	_, err = meter.Int64ObservableGauge(
		"limiter_pending_requests",
		metric.WithDescription("Rate limit requests awaiting a coordinator answer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(d.Pending()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register limiter_pending_requests: %w", err)
	}
	d.metrics.CompareAndSwap(nil, m)
	return nil
}
