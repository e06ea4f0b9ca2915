package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Take(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("redis: connection refused")
}

func (failingStore) Sweep(context.Context, time.Duration) (int, error) {
	return 0, errors.New("redis: connection refused")
}

func (failingStore) Close() error { return nil }

func TestCoordinator_Check(t *testing.T) {
	clock := newFakeClock()
	coord, err := NewCoordinator(DefaultConfig(), NewMemoryStore(WithClock(clock.Now)), nil, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	req := event.RateLimitRequest{RequestID: "r1", ClientID: "c1", ServiceName: "user-service", Endpoint: "/api/users/1", Limit: 2, WindowMs: 1000}
	res, err := coord.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RequestID)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.RemainingRequests)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, clock.Now().Add(time.Second).UnixMilli(), res.ResetTime)

	_, _ = coord.Check(ctx, req)
	res, _ = coord.Check(ctx, req)
	assert.False(t, res.Allowed)

	// the key is per service
	req.ServiceName = "notification-service"
	res, _ = coord.Check(ctx, req)
	assert.True(t, res.Allowed)

	// defaults apply when the request carries none
	res, _ = coord.Check(ctx, event.RateLimitRequest{RequestID: "r2", ClientID: "c2", ServiceName: "user-service"})
	assert.Equal(t, 100, res.Limit)
	assert.Equal(t, 99, res.RemainingRequests)
}

func TestCoordinator_Bind(t *testing.T) {
	bus := event.NewMemoryBus(event.WithSyncDelivery(), event.WithLogger(logger.Nop()))
	defer bus.Close()
	coord, err := NewCoordinator(DefaultConfig(), NewMemoryStore(), bus, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, coord.Bind(bus, "rate-limiter-service"))

	var mu sync.Mutex
	var results []event.RateLimitResult
	require.NoError(t, bus.Subscribe(event.TopicRateLimitResults, "test", func(_ context.Context, msg *event.Message) error {
		res, err := event.Decode[event.RateLimitResult](msg.Value)
		require.NoError(t, err)
		assert.Equal(t, res.RequestID, msg.Key)
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		return nil
	}))

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, bus.PublishJSON(ctx, event.TopicRateLimitRequests, id, event.RateLimitRequest{
			RequestID: id, ClientID: "c1", ServiceName: "user-service", Limit: 1, WindowMs: 60000,
		}))
	}
	require.NoError(t, bus.PublishJSON(ctx, event.TopicRateLimitRequests, "", map[string]string{"clientId": "no-request-id"}))

	require.Len(t, results, 2)
	assert.True(t, results[0].Allowed)
	assert.False(t, results[1].Allowed)
	assert.Equal(t, "b", results[1].RequestID)
}

func TestCoordinator_StoreFailureAnswersAllowed(t *testing.T) {
	bus := event.NewMemoryBus(event.WithSyncDelivery(), event.WithLogger(logger.Nop()))
	defer bus.Close()
	log, logs := logger.NewObserved("limiter")
	coord, err := NewCoordinator(DefaultConfig(), failingStore{}, bus, log)
	require.NoError(t, err)
	require.NoError(t, coord.Bind(bus, "rate-limiter-service"))

	var got event.RateLimitResult
	require.NoError(t, bus.Subscribe(event.TopicRateLimitResults, "test", func(_ context.Context, msg *event.Message) error {
		got, _ = event.Decode[event.RateLimitResult](msg.Value)
		return nil
	}))

	require.NoError(t, bus.PublishJSON(context.Background(), event.TopicRateLimitRequests, "x", event.RateLimitRequest{
		RequestID: "x", ClientID: "c1", ServiceName: "user-service", Limit: 10,
	}))
	assert.True(t, got.Allowed)
	assert.Equal(t, 10, got.RemainingRequests)
	assert.Equal(t, 1, logs.FilterMessage("rate limit store failed, allowing").Len())

	assert.Equal(t, 0, coord.Sweep(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("rate limit sweep failed").Len())
}

func TestCoordinator_SweepSchedule(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	cfg := DefaultConfig()
	cfg.SweepInterval = 20 * time.Millisecond
	coord, err := NewCoordinator(cfg, store, nil, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = coord.Check(ctx, event.RateLimitRequest{RequestID: "r", ClientID: "c1", ServiceName: "user-service"})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	require.NoError(t, coord.Start(ctx))
	require.NoError(t, coord.Start(ctx))
	assert.Eventually(t, func() bool { return len(store.Keys()) == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, coord.Stop())
}

func TestHandler(t *testing.T) {
	coord, err := NewCoordinator(DefaultConfig(), NewMemoryStore(), nil, logger.Nop())
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewHandler(coord).RegisterRoutes(engine)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/rate-limit/check", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)
		return w
	}

	w := post(`{"requestId":"r1","clientId":"c1","serviceName":"user-service","limit":1,"windowMs":60000}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res event.RateLimitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Allowed)
	assert.Equal(t, "c1", res.ClientID)

	w = post(`{"requestId":"r2","clientId":"c1","serviceName":"user-service","limit":1,"windowMs":60000}`)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.RemainingRequests)

	w = post(`{"clientId":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rate-limit/health", nil))
	assert.JSONEq(t, `{"status":"UP","service":"rate-limiter-service"}`, w.Body.String())
}

func TestHandler_StoreDown(t *testing.T) {
	coord, err := NewCoordinator(DefaultConfig(), failingStore{}, nil, logger.Nop())
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewHandler(coord).RegisterRoutes(engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rate-limit/check", strings.NewReader(`{"clientId":"c1","serviceName":"s"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
