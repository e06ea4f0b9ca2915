package telemetry

import (
	"context"
	"errors"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/logger"
)

// guardedExporter sends spans to the primary exporter through a mesh
// circuit breaker. While the breaker is open the batch goes to the
// fallback, so a dead collector costs one rejected check per batch
// instead of a full export timeout.
type guardedExporter struct {
	primary  sdktrace.SpanExporter
	fallback sdktrace.SpanExporter
	cb       *breaker.CircuitBreaker
	log      *logger.CtxZapLogger
}

func newGuardedExporter(primary, fallback sdktrace.SpanExporter, cfg ExportGuardConfig, log *logger.CtxZapLogger) *guardedExporter {
	return &guardedExporter{
		primary:  primary,
		fallback: fallback,
		cb:       breaker.New("telemetry-exporter", cfg.breakerConfig()),
		log:      log,
	}
}

func (g *guardedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !g.cb.Allow() {
		return g.fallback.ExportSpans(ctx, spans)
	}
	if err := g.primary.ExportSpans(ctx, spans); err != nil {
		before := g.cb.State()
		g.cb.RecordFailure()
		if before != breaker.StateOpen && g.cb.State() == breaker.StateOpen {
			g.log.WarnCtx(ctx, "span exporter tripped, using fallback", zap.Error(err))
		}
		return g.fallback.ExportSpans(ctx, spans)
	}
	g.cb.RecordSuccess()
	return nil
}

func (g *guardedExporter) Shutdown(ctx context.Context) error {
	return errors.Join(g.primary.Shutdown(ctx), g.fallback.Shutdown(ctx))
}

func (g *guardedExporter) State() breaker.State {
	return g.cb.State()
}
