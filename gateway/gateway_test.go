package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/limiter"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/registry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendCall struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

type backend struct {
	*httptest.Server

	mu    sync.Mutex
	calls []backendCall
}

func newBackend(t *testing.T, status int, body string) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.calls = append(b.calls, backendCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(data),
		})
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) Calls() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendCall(nil), b.calls...)
}

func (b *backend) instance(t *testing.T, id, service string, load int) registry.ServiceInstance {
	t.Helper()
	return instanceAt(t, b.URL, id, service, load)
}

func instanceAt(t *testing.T, rawURL, id, service string, load int) registry.ServiceInstance {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return registry.ServiceInstance{InstanceID: id, ServiceName: service, Host: host, Port: port, Load: load}
}

type eventRecorder struct {
	mu       sync.Mutex
	gateway  []event.GatewayEvent
	breakers []event.BreakerEvent
}

func newEventRecorder(t *testing.T, bus *event.MemoryBus) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{}
	require.NoError(t, bus.Subscribe(event.TopicGateway, "test", func(_ context.Context, msg *event.Message) error {
		ev, err := event.Decode[event.GatewayEvent](msg.Value)
		if err != nil {
			return err
		}
		rec.mu.Lock()
		rec.gateway = append(rec.gateway, ev)
		rec.mu.Unlock()
		return nil
	}))
	require.NoError(t, bus.Subscribe(event.TopicCircuitBreaker, "test", func(_ context.Context, msg *event.Message) error {
		ev, err := event.Decode[event.BreakerEvent](msg.Value)
		if err != nil {
			return err
		}
		rec.mu.Lock()
		rec.breakers = append(rec.breakers, ev)
		rec.mu.Unlock()
		return nil
	}))
	return rec
}

func (r *eventRecorder) GatewayTypes() []event.GatewayEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.GatewayEventType, len(r.gateway))
	for i, ev := range r.gateway {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) BreakerTypes() []event.BreakerEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.BreakerEventType, len(r.breakers))
	for i, ev := range r.breakers {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	gw       *Gateway
	registry *registry.Registry
	breakers *breaker.Registry
	engine   *gin.Engine
	events   *eventRecorder
}

func newFixture(t *testing.T, limit int, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := registry.New(registry.DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	breakers := newBreakers(t)
	window, err := limiter.NewFixedWindow(limit, time.Minute)
	require.NoError(t, err)

	bus := event.NewMemoryBus(event.WithSyncDelivery(), event.WithLogger(logger.Nop()))
	t.Cleanup(func() { _ = bus.Close() })
	rec := newEventRecorder(t, bus)

	cfg := DefaultConfig()
	cfg.StaticInstances = map[string]string{}
	base := []Option{WithDiscovery(reg), WithPublisher(bus), WithEmitterPool(0)}
	gw, err := New(cfg, breakers, NewLocalRateChecker(window), logger.Nop(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	reg.AddListener(gw.Resolver())

	engine := gin.New()
	engine.Use(gw.Middleware())
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	NewHandler(gw).RegisterRoutes(engine)

	return &fixture{gw: gw, registry: reg, breakers: breakers, engine: engine, events: rec}
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGateway_ProxiesToRegisteredInstance(t *testing.T) {
	f := newFixture(t, 100)
	b := newBackend(t, http.StatusCreated, `{"id":42,"name":"alice"}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	w := f.do(http.MethodGet, "/api/users/42?verbose=true", "", map[string]string{
		"X-Client-ID": "c1",
		"X-Trace":     "abc",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"id":42,"name":"alice"}`, w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Backend"))

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.Equal(t, "/42", calls[0].Path)
	assert.Equal(t, "verbose=true", calls[0].Query)
	assert.Equal(t, "abc", calls[0].Header.Get("X-Trace"))
	assert.Equal(t, "c1", calls[0].Header.Get("X-Client-ID"))

	assert.Equal(t, []event.GatewayEventType{event.GatewayRequestStarted, event.GatewayRequestSuccess}, f.events.GatewayTypes())
	assert.Equal(t, []event.BreakerEventType{event.BreakerCheckRequest, event.BreakerSuccessRecorded}, f.events.BreakerTypes())

	inst, ok := f.gw.Resolver().Cached("user-service")
	require.True(t, ok)
	assert.Equal(t, "svc-1", inst.InstanceID)
}

func TestGateway_ForwardsBody(t *testing.T) {
	f := newFixture(t, 100)
	b := newBackend(t, http.StatusOK, `{}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		w := f.do(method, "/api/users/", `{"name":"bob"}`, map[string]string{"Content-Type": "application/json"})
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(http.MethodDelete, "/api/users/7", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	calls := b.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls[:3] {
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, `{"name":"bob"}`, c.Body)
		assert.Equal(t, "application/json", c.Header.Get("Content-Type"))
	}
	assert.Equal(t, http.MethodDelete, calls[3].Method)
	assert.Equal(t, "/7", calls[3].Path)
	assert.Empty(t, calls[3].Body)
}

func TestGateway_OpenBreakerBlocksWithoutBackendCall(t *testing.T) {
	f := newFixture(t, 100)
	b := newBackend(t, http.StatusOK, `{}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	cb := f.breakers.Get("user-service")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, "Service user-service unavailable", body["error"])
	assert.Equal(t, "Circuit breaker is OPEN", body["reason"])
	assert.NotZero(t, body["timestamp"])
	assert.Empty(t, b.Calls())

	assert.Contains(t, f.events.BreakerTypes(), event.BreakerRequestBlocked)
	assert.Contains(t, f.events.GatewayTypes(), event.GatewayRequestBlocked)
}

func TestGateway_RateLimitExceeded(t *testing.T) {
	f := newFixture(t, 100)
	b := newBackend(t, http.StatusOK, `{}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))
	header := map[string]string{"X-Client-ID": "c1"}

	for i := 0; i < 100; i++ {
		w := f.do(http.MethodGet, "/api/users/1", "", header)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := f.do(http.MethodGet, "/api/users/1", "", header)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, "c1", body["clientId"])
	assert.NotZero(t, body["timestamp"])
	assert.Len(t, b.Calls(), 100)
	assert.Contains(t, f.events.GatewayTypes(), event.GatewayRateLimitExceeded)

	w = f.do(http.MethodGet, "/api/users/1", "", map[string]string{"X-Client-ID": "c2"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateway_ClientIDFallsBackToRemoteIP(t *testing.T) {
	f := newFixture(t, 1)
	b := newBackend(t, http.StatusOK, `{}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/users/1", "", nil).Code)
	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "192.0.2.1", decodeBody(t, w)["clientId"])
}

func TestGateway_ClientIDIgnoresForwardingHeaders(t *testing.T) {
	f := newFixture(t, 1)
	b := newBackend(t, http.StatusOK, `{}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		w := f.do(http.MethodGet, "/api/users/1", "", map[string]string{
			"X-Forwarded-For": forwarded,
			"X-Real-IP":       forwarded,
		})
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Len(t, b.Calls(), 1)
}

func TestGateway_BlankClientIDFallsBackToRemoteIP(t *testing.T) {
	f := newFixture(t, 1)
	b := newBackend(t, http.StatusOK, `{}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/users/1", "", nil).Code)
	w := f.do(http.MethodGet, "/api/users/1", "", map[string]string{"X-Client-ID": "   "})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "192.0.2.1", decodeBody(t, w)["clientId"])
}

func TestGateway_PicksLowestLoad(t *testing.T) {
	f := newFixture(t, 100)
	busy := newBackend(t, http.StatusOK, `{"from":"busy"}`)
	idle := newBackend(t, http.StatusOK, `{"from":"idle"}`)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.registry.Register(ctx, busy.instance(t, "svc-1", "user-service", 5))
	}()
	go func() {
		defer wg.Done()
		f.registry.Register(ctx, idle.instance(t, "svc-2", "user-service", 1))
	}()
	wg.Wait()

	assert.ElementsMatch(t, []string{"svc-1", "svc-2"}, func() []string {
		var ids []string
		for _, inst := range f.registry.QueryAlive("user-service") {
			ids = append(ids, inst.InstanceID)
		}
		return ids
	}())

	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, `{"from":"idle"}`, w.Body.String())
	assert.Empty(t, busy.Calls())
}

func TestGateway_ServerErrorPassesThroughAndOpensBreaker(t *testing.T) {
	f := newFixture(t, 100)
	b := newBackend(t, http.StatusInternalServerError, `{"error":"boom"}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	for i := 0; i < 5; i++ {
		w := f.do(http.MethodGet, "/api/users/1", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, `{"error":"boom"}`, w.Body.String())
	}
	assert.Equal(t, breaker.StateOpen, f.breakers.State("user-service"))
	assert.Contains(t, f.events.GatewayTypes(), event.GatewayRequestFailed)
	assert.Contains(t, f.events.BreakerTypes(), event.BreakerFailureRecorded)

	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["fallback"])
	assert.Len(t, b.Calls(), 5)
}

func TestGateway_TransportErrorFallsBack(t *testing.T) {
	f := newFixture(t, 100)
	dead := httptest.NewServer(http.NotFoundHandler())
	inst := instanceAt(t, dead.URL, "svc-1", "user-service", 0)
	dead.Close()
	f.registry.Register(context.Background(), inst)

	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, "Service user-service unavailable", body["error"])
	assert.NotEmpty(t, body["reason"])

	assert.Equal(t, 1, f.breakers.Get("user-service").Snapshot().FailureCount)
	assert.Equal(t, []event.GatewayEventType{event.GatewayRequestStarted, event.GatewayRequestFailed}, f.events.GatewayTypes())
	assert.Equal(t, []event.BreakerEventType{event.BreakerCheckRequest, event.BreakerFailureRecorded}, f.events.BreakerTypes())
}

func TestGateway_NoInstance(t *testing.T) {
	f := newFixture(t, 100)

	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Service user-service not found", body["error"])
	assert.Equal(t, true, body["fallback"])
}

func TestGateway_PassesThroughUnroutedPaths(t *testing.T) {
	f := newFixture(t, 100)

	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/orders/1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, f.events.GatewayTypes())
}

func TestGateway_RemoteCheckerFailsOpen(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	f := newFixture(t, 100, WithChecker(breaker.NewRemoteChecker(deadURL, 100*time.Millisecond, logger.Nop())))
	b := newBackend(t, http.StatusOK, `{"ok":true}`)
	f.registry.Register(context.Background(), b.instance(t, "svc-1", "user-service", 0))

	w := f.do(http.MethodGet, "/api/users/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, b.Calls(), 1)
}

func TestGateway_UnregistrationInvalidatesInstance(t *testing.T) {
	f := newFixture(t, 100)
	old := newBackend(t, http.StatusOK, `{"from":"old"}`)
	fresh := newBackend(t, http.StatusOK, `{"from":"new"}`)
	ctx := context.Background()

	f.registry.Register(ctx, old.instance(t, "svc-1", "user-service", 0))
	assert.Equal(t, `{"from":"old"}`, f.do(http.MethodGet, "/api/users/1", "", nil).Body.String())

	f.registry.Register(ctx, fresh.instance(t, "svc-2", "user-service", 0))
	require.True(t, f.registry.Unregister(ctx, "svc-1"))
	assert.Equal(t, `{"from":"new"}`, f.do(http.MethodGet, "/api/users/1", "", nil).Body.String())
}

func TestHandler_Routes(t *testing.T) {
	f := newFixture(t, 100)

	w := f.do(http.MethodGet, "/gateway/routes", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var routes []routeView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &routes))
	require.Len(t, routes, 5)
	assert.Equal(t, "/api/users/.*", routes[0].Pattern)
	assert.Equal(t, "user-service", routes[0].Service)

	w = f.do(http.MethodGet, "/gateway/instances/user-service", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/gateway/health", "", nil)
	assert.JSONEq(t, `{"status":"UP","service":"api-gateway"}`, w.Body.String())
}

func TestNew_Validation(t *testing.T) {
	breakers := newBreakers(t)
	window := limiter.NewDefaultFixedWindow()

	_, err := New(DefaultConfig(), nil, NewLocalRateChecker(window), logger.Nop())
	assert.Error(t, err)
	_, err = New(DefaultConfig(), breakers, nil, logger.Nop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.RateLimitMode = "bogus"
	_, err = New(cfg, breakers, NewLocalRateChecker(window), logger.Nop())
	assert.Error(t, err)
}
