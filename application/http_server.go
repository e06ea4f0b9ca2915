package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/middleware"
	"github.com/KOMKZ/yogan-mesh/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// HTTPServer is the gin engine every role mounts its API on.
type HTTPServer struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	logger     *logger.CtxZapLogger

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
}

// ServerOption customises NewHTTPServer.
type ServerOption func(*serverOptions)

type serverOptions struct {
	telemetry *telemetry.Manager
	logger    *logger.CtxZapLogger
}

// WithTelemetry adds otelgin tracing and, when enabled in config, request
// metrics on the telemetry meter.
func WithTelemetry(m *telemetry.Manager) ServerOption {
	return func(o *serverOptions) { o.telemetry = m }
}

func WithServerLogger(l *logger.CtxZapLogger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// NewHTTPServer builds the engine with the middleware chain in this order:
// CORS, otelgin, TraceID, metrics, request log, recovery. Routes and the
// gateway middleware are added by the caller afterwards.
func NewHTTPServer(cfg ServerConfig, mw MiddlewareConfig, opts ...ServerOption) (*HTTPServer, error) {
	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger("mesh")
	}

	gin.DefaultWriter = logger.NewGinLogWriter("mesh")
	gin.DefaultErrorWriter = logger.NewGinLogWriter("mesh")
	gin.SetMode(cfg.Mode)

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	// CORS first so preflights are answered before anything else runs.
	if mw.CORS.Enable {
		engine.Use(middleware.CORS(mw.CORS))
	}

	tracing := o.telemetry != nil && o.telemetry.Config().Enabled
	if tracing {
		engine.Use(otelgin.Middleware(o.telemetry.Config().ServiceName))
	}

	// After otelgin so the span's trace id wins.
	if mw.TraceID.Enable {
		engine.Use(middleware.TraceID(mw.TraceID.TraceConfig))
	}

	if mw.Metrics.Enable && o.telemetry != nil {
		metrics, err := middleware.NewHTTPMetrics(o.telemetry.Meter("mesh/http"))
		if err != nil {
			return nil, fmt.Errorf("create http metrics: %w", err)
		}
		engine.Use(metrics.Handler())
	}

	if mw.RequestLog.Enable {
		engine.Use(middleware.RequestLog(mw.RequestLog.RequestLogConfig, logger.GetLogger("http")))
	}

	engine.Use(middleware.Recovery(logger.GetLogger("http")))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "path": c.Request.URL.Path})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed", "method": c.Request.Method})
	})

	return &HTTPServer{
		engine: engine,
		config: cfg,
		logger: o.logger,
		errCh:  make(chan error, 1),
	}, nil
}

func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// Addr is the bound address once started, the configured one before.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Errors reports a serve failure after Start returned.
func (s *HTTPServer) Errors() <-chan error {
	return s.errCh
}

// Start binds the port and serves in the background. A port that is taken
// fails here rather than later.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("http server already started")
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d unavailable: %w", s.config.Port, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
			s.errCh <- err
		}
	}()

	s.logger.InfoCtx(ctx, "http server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("mode", s.config.Mode),
	)
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.InfoCtx(ctx, "http server stopped")
	return nil
}

// ShutdownWithTimeout is Shutdown bounded by timeout.
func (s *HTTPServer) ShutdownWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}
