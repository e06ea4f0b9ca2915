// Package gateway is the mesh edge: it matches a route, resolves an instance,
// consults the circuit breaker and the rate limiter, then proxies the call
// and records its outcome.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/httpclient"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const blockedReason = "Circuit breaker is OPEN"

type options struct {
	discovery   registry.Discovery
	checker     breaker.Checker
	publisher   event.Publisher
	proxyOpts   []httpclient.Option
	emitterPool int
	now         func() time.Time
}

// Option configures a Gateway.
type Option func(*options)

// WithDiscovery resolves instances through d before the fallbacks.
func WithDiscovery(d registry.Discovery) Option {
	return func(o *options) {
		o.discovery = d
	}
}

// WithChecker asks c instead of the local breakers whether a service may be called.
func WithChecker(c breaker.Checker) Option {
	return func(o *options) {
		o.checker = c
	}
}

func WithPublisher(p event.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithProxyOptions tunes the backend client, e.g. its transport.
func WithProxyOptions(opts ...httpclient.Option) Option {
	return func(o *options) {
		o.proxyOpts = append(o.proxyOpts, opts...)
	}
}

// WithEmitterPool publishes events on size workers; 0 publishes inline.
func WithEmitterPool(size int) Option {
	return func(o *options) {
		o.emitterPool = size
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Gateway routes matching requests to backend instances.
type Gateway struct {
	config   Config
	routes   *RouteTable
	resolver *Resolver
	guard    *BreakerGuard
	rate     RateChecker
	proxy    *Proxy
	emitter  *Emitter
	logger   *logger.CtxZapLogger
	now      func() time.Time

	metrics atomic.Pointer[Metrics]
}

// New builds a gateway. breakers records proxy outcomes and, without
// WithChecker, also decides. rate is consulted for every routed request.
func New(cfg Config, breakers *breaker.Registry, rate RateChecker, log *logger.CtxZapLogger, opts ...Option) (*Gateway, error) {
	if breakers == nil {
		return nil, errors.New("breaker registry cannot be nil")
	}
	if rate == nil {
		return nil, errors.New("rate checker cannot be nil")
	}
	if log == nil {
		log = logger.GetLogger("gateway")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	o := options{emitterPool: 64, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	routes, err := NewRouteTable(cfg.Routes)
	if err != nil {
		return nil, err
	}
	resolver, err := NewResolver(o.discovery, cfg, log)
	if err != nil {
		return nil, err
	}
	emitter, err := NewEmitter(o.publisher, o.emitterPool, log)
	if err != nil {
		return nil, fmt.Errorf("create event emitter: %w", err)
	}

	return &Gateway{
		config:   cfg,
		routes:   routes,
		resolver: resolver,
		guard:    NewBreakerGuard(o.checker, breakers, cfg.DecisionTTL, cfg.InstanceCacheSize),
		rate:     rate,
		proxy:    NewProxy(cfg.ProxyTimeout, o.proxyOpts...),
		emitter:  emitter,
		logger:   log,
		now:      o.now,
	}, nil
}

func (g *Gateway) Config() Config {
	return g.config
}

func (g *Gateway) Routes() *RouteTable {
	return g.routes
}

// Resolver exposes the instance resolver, a registry.Listener.
func (g *Gateway) Resolver() *Resolver {
	return g.resolver
}

func (g *Gateway) Guard() *BreakerGuard {
	return g.guard
}

// Middleware routes matching requests and lets everything else through.
func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if ShouldSkip(path) {
			c.Next()
			return
		}
		route, ok := g.routes.Match(path)
		if !ok {
			c.Next()
			return
		}
		g.serve(c, route)
		c.Abort()
	}
}

func (g *Gateway) serve(c *gin.Context, route *Route) {
	ctx := c.Request.Context()
	service := route.Service
	path := c.Request.URL.Path
	method := c.Request.Method

	g.emitter.Gateway(ctx, event.GatewayEvent{
		ServiceName: service,
		Type:        event.GatewayRequestStarted,
		Path:        path,
		Method:      method,
	})

	inst, source, err := g.resolver.Resolve(ctx, service)
	if err != nil {
		g.logger.WarnCtx(ctx, "no instance for service", zap.String("service", service), zap.Error(err))
		g.countRequest(ctx, service, OutcomeNoInstance)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     fmt.Sprintf("Service %s not found", service),
			"timestamp": g.now().UnixMilli(),
			"fallback":  true,
		})
		return
	}

	decision, cached := g.guard.Check(ctx, service)
	if !cached {
		g.emitter.Breaker(ctx, event.BreakerCheckRequest, service, path, method)
	}
	if !decision.Allowed {
		g.emitter.Breaker(ctx, event.BreakerRequestBlocked, service, path, method)
		g.emitter.Gateway(ctx, event.GatewayEvent{
			ServiceName: service,
			Type:        event.GatewayRequestBlocked,
			Path:        path,
			Method:      method,
			Reason:      blockedReason,
		})
		g.countRequest(ctx, service, OutcomeBlocked)
		g.fallback(c, service, blockedReason)
		return
	}

	clientID := g.clientID(c)
	if rd := g.rate.Check(ctx, clientID, service, path); !rd.Allowed {
		g.emitter.Gateway(ctx, event.GatewayEvent{
			ServiceName: service,
			Type:        event.GatewayRateLimitExceeded,
			Path:        path,
			Method:      method,
			ClientID:    clientID,
		})
		g.countRequest(ctx, service, OutcomeRateLimited)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "Rate limit exceeded",
			"clientId":  clientID,
			"timestamp": g.now().UnixMilli(),
		})
		return
	}

	target := TargetURL(inst, route, path, c.Request.URL.RawQuery)
	start := time.Now()
	resp, err := g.proxy.Forward(ctx, c.Request, target)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// the caller went away; that says nothing about the backend
			g.logger.DebugCtx(ctx, "caller cancelled proxied request",
				zap.String("service", service),
				zap.String("target", target))
			c.Status(499)
			return
		}
		g.logger.WarnCtx(ctx, "proxy request failed",
			zap.String("service", service),
			zap.String("instance_id", inst.InstanceID),
			zap.String("source", string(source)),
			zap.String("target", target),
			zap.Error(err))
		g.recordFailure(ctx, service, path, method, clientID, err.Error())
		g.observeProxy(ctx, service, elapsed, OutcomeFailure)
		g.fallback(c, service, err.Error())
		return
	}

	if resp.IsServerError() {
		g.recordFailure(ctx, service, path, method, clientID, resp.Status)
		g.observeProxy(ctx, service, elapsed, OutcomeFailure)
	} else {
		g.guard.RecordSuccess(service)
		g.emitter.Breaker(ctx, event.BreakerSuccessRecorded, service, path, method)
		g.emitter.Gateway(ctx, event.GatewayEvent{
			ServiceName: service,
			Type:        event.GatewayRequestSuccess,
			Path:        path,
			Method:      method,
			ClientID:    clientID,
		})
		g.countRequest(ctx, service, OutcomeSuccess)
		g.observeProxy(ctx, service, elapsed, OutcomeSuccess)
	}

	g.logger.DebugCtx(ctx, "request proxied",
		zap.String("service", service),
		zap.String("instance_id", inst.InstanceID),
		zap.String("source", string(source)),
		zap.String("target", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))
	WriteResponse(c.Writer, resp)
}

func (g *Gateway) recordFailure(ctx context.Context, service, path, method, clientID, reason string) {
	g.guard.RecordFailure(service)
	g.emitter.Breaker(ctx, event.BreakerFailureRecorded, service, path, method)
	g.emitter.Gateway(ctx, event.GatewayEvent{
		ServiceName: service,
		Type:        event.GatewayRequestFailed,
		Path:        path,
		Method:      method,
		ClientID:    clientID,
		Reason:      reason,
	})
	g.countRequest(ctx, service, OutcomeFailure)
}

func (g *Gateway) fallback(c *gin.Context, service, reason string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":     fmt.Sprintf("Service %s unavailable", service),
		"reason":    reason,
		"timestamp": g.now().UnixMilli(),
		"fallback":  true,
	})
}

// Flush waits for the events of finished requests to be published.
func (g *Gateway) Flush() {
	g.emitter.Flush()
}

// Close flushes pending events and releases the emitter pool.
func (g *Gateway) Close() error {
	g.emitter.Close()
	return nil
}

// clientID is the client id header, or the TCP peer address when the header
// is blank. Forwarding headers are not trusted.
func (g *Gateway) clientID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(g.config.ClientIDHeader)); id != "" {
		return id
	}
	return c.RemoteIP()
}
