package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	for key, value := range flattenAttrs(cfg.ResourceAttrs, "") {
		attrs = append(attrs, attribute.String(key, os.ExpandEnv(value)))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
	)
}

// flattenAttrs turns {"deployment": {"environment": "prod"}} into
// {"deployment.environment": "prod"}.
func flattenAttrs(m map[string]any, prefix string) map[string]string {
	out := make(map[string]string)
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			out[full] = v
		case map[string]any:
			for k, nv := range flattenAttrs(v, full) {
				out[k] = nv
			}
		default:
			out[full] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
