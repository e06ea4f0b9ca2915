package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// CtxZapLogger is a module-bound zap logger that pulls the trace id out of ctx.
// Obtain one through GetLogger or Manager.GetLogger.
type CtxZapLogger struct {
	base   *zap.Logger
	module string
	config *ManagerConfig
}

// NewObserved returns a logger that records entries in memory, for tests.
//
//	log, logs := logger.NewObserved("registry")
//	reg := registry.New(cfg, log)
//	assert.Equal(t, 1, logs.FilterMessage("heartbeat for unknown instance").Len())
func NewObserved(module string) (*CtxZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultManagerConfig()
	cfg.EnableStacktrace = false
	return &CtxZapLogger{
		base:   zap.New(core).With(zap.String("module", module)),
		module: module,
		config: &cfg,
	}, logs
}

// Nop returns a logger that discards everything.
func Nop() *CtxZapLogger {
	cfg := DefaultManagerConfig()
	cfg.EnableStacktrace = false
	return &CtxZapLogger{base: zap.NewNop(), module: "nop", config: &cfg}
}

func (l *CtxZapLogger) InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Info(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Info(msg string, fields ...zap.Field) {
	l.InfoCtx(context.Background(), msg, fields...)
}

// ErrorCtx logs at error level and appends a depth-limited stack when enabled.
func (l *CtxZapLogger) ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	enriched := l.enrichFields(ctx, fields)
	if l.config != nil && shouldCaptureStacktrace("error", *l.config) {
		depth := l.config.StacktraceDepth
		if depth <= 0 {
			depth = 10
		}
		// skip runtime.Callers, CaptureStacktrace and ErrorCtx
		if stack := CaptureStacktrace(3, depth); stack != "" {
			enriched = append(enriched, zap.String("stack", stack))
		}
	}
	l.base.Error(msg, enriched...)
}

func (l *CtxZapLogger) Error(msg string, fields ...zap.Field) {
	l.ErrorCtx(context.Background(), msg, fields...)
}

func (l *CtxZapLogger) DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Debug(msg string, fields ...zap.Field) {
	l.DebugCtx(context.Background(), msg, fields...)
}

func (l *CtxZapLogger) WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Warn(msg string, fields ...zap.Field) {
	l.WarnCtx(context.Background(), msg, fields...)
}

// With returns a child logger carrying fields on every entry.
func (l *CtxZapLogger) With(fields ...zap.Field) *CtxZapLogger {
	return &CtxZapLogger{
		base:   l.base.With(fields...),
		module: l.module,
		config: l.config,
	}
}

// Module returns the module name the logger is bound to.
func (l *CtxZapLogger) Module() string {
	return l.module
}

// GetZapLogger exposes the underlying logger for third-party clients,
// e.g. clientv3.Config{Logger: log.GetZapLogger()}.
func (l *CtxZapLogger) GetZapLogger() *zap.Logger {
	return l.base
}

func (l *CtxZapLogger) enrichFields(ctx context.Context, fields []zap.Field) []zap.Field {
	enriched := make([]zap.Field, 0, len(fields)+2)
	if l.config == nil {
		return append(enriched, fields...)
	}

	enriched = append(enriched, zap.String("app_name", l.config.AppName))
	if l.config.EnableTraceID {
		if traceID := TraceIDFromContext(ctx, l.config.TraceIDKey); traceID != "" {
			name := l.config.TraceIDFieldName
			if name == "" {
				name = "trace_id"
			}
			enriched = append(enriched, zap.String(name, traceID))
		}
	}
	return append(enriched, fields...)
}

type traceIDKey struct{}

// WithTraceID returns a copy of ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext resolves the trace id in priority order:
// OpenTelemetry span, WithTraceID, the configured key, then "trace_id"
// and "traceId".
func TraceIDFromContext(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok && v != "" {
		return v
	}
	for _, k := range []string{key, "trace_id", "traceId"} {
		if k == "" {
			continue
		}
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			return v
		}
	}
	return ""
}
