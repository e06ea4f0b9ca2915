package breaker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records breaker activity as OTel instruments.
type Metrics struct {
	requests    metric.Int64Counter
	outcomes    metric.Int64Counter
	transitions metric.Int64Counter
	state       metric.Int64ObservableGauge
}

// Instrument attaches OTel instruments to r. Breakers created before and
// after the call are both covered.
func (r *Registry) Instrument(meter metric.Meter) error {
	if r.metrics.Load() != nil {
		return nil
	}
	m, err := newMetrics(meter, r.All)
	if err != nil {
		return err
	}
	if r.metrics.CompareAndSwap(nil, m) {
		r.AddStateListener(m)
	}
	return nil
}

func newMetrics(meter metric.Meter, snapshots func() []Snapshot) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"breaker_requests_total",
		metric.WithDescription("Breaker checks by result (allowed, rejected)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register breaker_requests_total: %w", err)
	}

	m.outcomes, err = meter.Int64Counter(
		"breaker_outcomes_total",
		metric.WithDescription("Recorded call outcomes (success, failure)"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register breaker_outcomes_total: %w", err)
	}

	m.transitions, err = meter.Int64Counter(
		"breaker_transitions_total",
		metric.WithDescription("State transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("register breaker_transitions_total: %w", err)
	}

	m.state, err = meter.Int64ObservableGauge(
		"breaker_state",
		metric.WithDescription("Current breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for _, s := range snapshots() {
				o.Observe(int64(s.State), metric.WithAttributes(attribute.String("breaker", s.Name)))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("register breaker_state: %w", err)
	}
	return m, nil
}

func (m *Metrics) recordDecision(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.requests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("result", result),
	))
}

func (m *Metrics) recordOutcome(name string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.outcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("outcome", outcome),
	))
}

// OnStateChange implements StateListener.
func (m *Metrics) OnStateChange(name string, from, to State) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
