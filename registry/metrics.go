package registry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records membership as OTel instruments.
type Metrics struct {
	events metric.Int64Counter
	alive  metric.Int64ObservableGauge
}

// Instrument attaches OTel instruments to r. Calling it again is a no-op.
func (r *Registry) Instrument(meter metric.Meter) error {
	if r.metrics.Load() != nil {
		return nil
	}
	m := &Metrics{}
	var err error

	m.events, err = meter.Int64Counter(
		"registry_events_total",
		metric.WithDescription("Membership events by kind (registered, heartbeat, unregistered, expired)"),
	)
	if err != nil {
		return fmt.Errorf("register registry_events_total: %w", err)
	}

	m.alive, err = meter.Int64ObservableGauge(
		"registry_alive_instances",
		metric.WithDescription("Alive instances per service"),
		metric.WithUnit("{instance}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for _, name := range r.Services() {
				o.Observe(int64(len(r.QueryAlive(name))), metric.WithAttributes(attribute.String("service", name)))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register registry_alive_instances: %w", err)
	}

	r.metrics.CompareAndSwap(nil, m)
	return nil
}

func (m *Metrics) recordEvent(ctx context.Context, kind, service string) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("service", service),
	))
}
