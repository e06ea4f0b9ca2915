package gateway

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeBlocked     = "blocked"
	OutcomeRateLimited = "rate_limited"
	OutcomeNoInstance  = "no_instance"
)

// Metrics records routed requests as OTel instruments.
type Metrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter(
		"gateway_requests_total",
		metric.WithDescription("Routed requests by service and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register gateway_requests_total: %w", err)
	}
	latency, err := meter.Float64Histogram(
		"gateway_proxy_duration_seconds",
		metric.WithDescription("Backend call latency including the body read"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("register gateway_proxy_duration_seconds: %w", err)
	}
	return &Metrics{requests: requests, latency: latency}, nil
}

// Instrument attaches request and latency instruments to g.
func (g *Gateway) Instrument(meter metric.Meter) error {
	if g.metrics.Load() != nil {
		return nil
	}
	m, err := newMetrics(meter)
	if err != nil {
		return err
	}
	g.metrics.CompareAndSwap(nil, m)
	return nil
}

func (g *Gateway) countRequest(ctx context.Context, service, outcome string) {
	m := g.metrics.Load()
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
}

func (g *Gateway) observeProxy(ctx context.Context, service string, d time.Duration, outcome string) {
	m := g.metrics.Load()
	if m == nil {
		return
	}
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
}
