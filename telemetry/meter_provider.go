package telemetry

import (
	"context"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

func (m *Manager) newMeterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	exporter, err := newMetricExporter(ctx, m.config.Exporter, m.out)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	if exporter != nil {
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(m.config.Metrics.ExportInterval),
			sdkmetric.WithTimeout(m.config.Metrics.ExportTimeout),
		)))
	}
	for _, r := range m.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}
