package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func (m *Manager) newTracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := newSpanExporter(ctx, m.config.Exporter.Type, m.config.Exporter, m.out)
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	if m.config.ExportGuard.Enabled && m.config.Exporter.Type == ExporterOTLP {
		fallback, err := newSpanExporter(ctx, m.config.ExportGuard.Fallback, m.config.Exporter, m.out)
		if err != nil {
			return nil, fmt.Errorf("create fallback exporter: %w", err)
		}
		m.guard = newGuardedExporter(exporter, fallback, m.config.ExportGuard, m.logger)
		exporter = m.guard
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(m.config.Sampler)),
	}
	if m.config.Batch.Enabled {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxQueueSize(m.config.Batch.MaxQueueSize),
			sdktrace.WithMaxExportBatchSize(m.config.Batch.MaxExportBatchSize),
			sdktrace.WithBatchTimeout(m.config.Batch.ScheduleDelay),
			sdktrace.WithExportTimeout(m.config.Batch.ExportTimeout),
		))
	} else {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newSampler(cfg SamplerConfig) sdktrace.Sampler {
	switch cfg.Type {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "trace_id_ratio":
		return sdktrace.TraceIDRatioBased(cfg.Ratio)
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}
