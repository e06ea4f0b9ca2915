package middleware

import (
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDKeyDefault    = "trace_id"
	TraceIDHeaderDefault = "X-Trace-ID"
)

type TraceConfig struct {
	// TraceIDKey names the value in gin.Context.
	TraceIDKey    string `mapstructure:"trace_id_key"`
	TraceIDHeader string `mapstructure:"trace_id_header"`

	EnableResponseHeader bool `mapstructure:"enable_response_header"`

	// Generator makes ids for requests that carry none, uuid by default.
	Generator func() string `mapstructure:"-"`
}

func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		TraceIDKey:           TraceIDKeyDefault,
		TraceIDHeader:        TraceIDHeaderDefault,
		EnableResponseHeader: true,
		Generator:            func() string { return uuid.New().String() },
	}
}

// TraceID tags each request with a trace id. An active OTel span wins;
// otherwise the inbound header is reused or a new id is generated and put
// into the request context, where logger.CtxZapLogger picks it up.
func TraceID(cfg TraceConfig) gin.HandlerFunc {
	if cfg.TraceIDKey == "" {
		cfg.TraceIDKey = TraceIDKeyDefault
	}
	if cfg.TraceIDHeader == "" {
		cfg.TraceIDHeader = TraceIDHeaderDefault
	}
	if cfg.Generator == nil {
		cfg.Generator = func() string { return uuid.New().String() }
	}

	return func(c *gin.Context) {
		var traceID string
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		} else {
			traceID = c.GetHeader(cfg.TraceIDHeader)
			if traceID == "" {
				traceID = cfg.Generator()
			}
			c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		}

		c.Set(cfg.TraceIDKey, traceID)
		if cfg.EnableResponseHeader {
			c.Writer.Header().Set(cfg.TraceIDHeader, traceID)
		}
		c.Next()
	}
}

// GetTraceID reads the id stored under the default key.
func GetTraceID(c *gin.Context) string {
	return GetTraceIDWithKey(c, TraceIDKeyDefault)
}

func GetTraceIDWithKey(c *gin.Context, key string) string {
	if id, ok := c.Get(key); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
