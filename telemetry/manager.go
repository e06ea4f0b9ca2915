// Package telemetry owns the process-wide OpenTelemetry tracer and meter
// providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/logger"
)

type Option func(*Manager)

// WithWriter redirects the stdout exporters.
func WithWriter(w io.Writer) Option {
	return func(m *Manager) { m.out = w }
}

// WithReader attaches an extra metric reader, e.g. a ManualReader in tests.
func WithReader(r sdkmetric.Reader) Option {
	return func(m *Manager) { m.readers = append(m.readers, r) }
}

// Manager starts the providers, installs them globally and shuts them down.
type Manager struct {
	config  Config
	logger  *logger.CtxZapLogger
	out     io.Writer
	readers []sdkmetric.Reader

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	guard          *guardedExporter
}

func NewManager(cfg Config, log *logger.CtxZapLogger, opts ...Option) *Manager {
	if log == nil {
		log = logger.GetLogger("mesh")
	}
	cfg.ApplyDefaults()
	m := &Manager{config: cfg, logger: log, out: os.Stdout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start is a no-op when telemetry is disabled; Meter then hands out noop
// instruments.
func (m *Manager) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.InfoCtx(ctx, "telemetry disabled")
		return nil
	}
	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	res, err := newResource(ctx, m.config)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tp, err := m.newTracerProvider(ctx, res)
	if err != nil {
		return err
	}
	m.tracerProvider = tp
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if m.config.Metrics.Enabled {
		mp, err := m.newMeterProvider(ctx, res)
		if err != nil {
			return err
		}
		m.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	m.logger.InfoCtx(ctx, "telemetry started",
		zap.String("service_name", m.config.ServiceName),
		zap.String("exporter", m.config.Exporter.Type),
		zap.Bool("metrics", m.config.Metrics.Enabled),
	)
	return nil
}

// Shutdown flushes both providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.tracerProvider != nil {
		if err := m.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Tracer(name string) trace.Tracer {
	if m.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// Meter returns a noop meter until metrics are started.
func (m *Manager) Meter(name string) metric.Meter {
	if m.meterProvider == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return m.meterProvider.Meter(name)
}

// ExporterState reports the export guard, CLOSED when there is none.
func (m *Manager) ExporterState() breaker.State {
	if m.guard == nil {
		return breaker.StateClosed
	}
	return m.guard.State()
}

func (m *Manager) Config() Config {
	return m.config
}
