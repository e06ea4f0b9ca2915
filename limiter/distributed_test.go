package limiter

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortConfig() Config {
	cfg := DefaultConfig()
	cfg.ResultTimeout = 50 * time.Millisecond
	cfg.PendingSweepInterval = 20 * time.Millisecond
	return cfg
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return "req-" + strconv.FormatInt(n.Add(1), 10)
	}
}

func TestNewDistributedLimiter_RequiresPublisher(t *testing.T) {
	_, err := NewDistributedLimiter(DefaultConfig(), nil, logger.Nop())
	assert.Error(t, err)
}

func TestDistributedLimiter_EndToEnd(t *testing.T) {
	bus := event.NewMemoryBus(event.WithSyncDelivery(), event.WithLogger(logger.Nop()))
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.Limit = 3
	coord, err := NewCoordinator(cfg, NewMemoryStore(), bus, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, coord.Bind(bus, "rate-limiter-service"))

	dl, err := NewDistributedLimiter(cfg, bus, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, dl.Bind(bus, "api-gateway-1"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := dl.Allow(ctx, "c1", "user-service", "/api/users/1")
		assert.True(t, d.Allowed)
		assert.False(t, d.FailOpen)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d := dl.Allow(ctx, "c1", "user-service", "/api/users/1")
	assert.False(t, d.Allowed)
	assert.False(t, d.ResetAt.IsZero())
	assert.Equal(t, 0, dl.Pending())
}

func TestDistributedLimiter_TimeoutFailsOpen(t *testing.T) {
	log, logs := logger.NewObserved("limiter")
	dl, err := NewDistributedLimiter(shortConfig(), event.NopPublisher{}, log)
	require.NoError(t, err)

	start := time.Now()
	d := dl.Allow(context.Background(), "c1", "user-service", "/api/users")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.True(t, d.Allowed)
	assert.True(t, d.FailOpen)
	assert.Equal(t, 100, d.Remaining)
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 0, dl.Pending())
	assert.Equal(t, 1, logs.FilterMessage("rate limit timeout, allowing").Len())
}

func TestDistributedLimiter_PublishFailureFailsOpen(t *testing.T) {
	pub := event.PublisherFunc(func(context.Context, string, string, any) error {
		return errors.New("kafka: client has run out of available brokers")
	})
	log, logs := logger.NewObserved("limiter")
	dl, err := NewDistributedLimiter(shortConfig(), pub, log)
	require.NoError(t, err)

	d := dl.Allow(context.Background(), "c1", "user-service", "/api/users")
	assert.True(t, d.Allowed)
	assert.True(t, d.FailOpen)
	assert.Equal(t, 0, dl.Pending())
	assert.Equal(t, 1, logs.FilterMessage("publish rate limit request failed, allowing").Len())
}

func TestDistributedLimiter_ContextCancelled(t *testing.T) {
	cfg := shortConfig()
	cfg.ResultTimeout = time.Minute
	dl, err := NewDistributedLimiter(cfg, event.NopPublisher{}, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d := dl.Allow(ctx, "c1", "user-service", "/")
	assert.True(t, d.FailOpen)
	assert.Equal(t, 0, dl.Pending())
}

func TestDistributedLimiter_LateAndUnknownResultsIgnored(t *testing.T) {
	var mu sync.Mutex
	var requests []event.RateLimitRequest
	pub := event.PublisherFunc(func(_ context.Context, _ string, _ string, payload any) error {
		mu.Lock()
		requests = append(requests, payload.(event.RateLimitRequest))
		mu.Unlock()
		return nil
	})
	dl, err := NewDistributedLimiter(shortConfig(), pub, logger.Nop(), WithRequestID(sequentialIDs()))
	require.NoError(t, err)

	d := dl.Allow(context.Background(), "c1", "user-service", "/")
	assert.True(t, d.FailOpen)

	require.Len(t, requests, 1)
	assert.Equal(t, "req-1", requests[0].RequestID)
	assert.Equal(t, 100, requests[0].Limit)
	assert.Equal(t, int64(60000), requests[0].WindowMs)

	assert.False(t, dl.Resolve(event.RateLimitResult{RequestID: "req-1", Allowed: false}))
	assert.False(t, dl.Resolve(event.RateLimitResult{RequestID: "nope"}))
}

func TestDistributedLimiter_ResultBeforeTimeout(t *testing.T) {
	var dl *DistributedLimiter
	pub := event.PublisherFunc(func(_ context.Context, _ string, key string, _ any) error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			dl.Resolve(event.RateLimitResult{RequestID: key, Allowed: false, RemainingRequests: 0, Limit: 100, ResetTime: 1700000000000})
		}()
		return nil
	})
	var err error
	cfg := shortConfig()
	cfg.ResultTimeout = time.Second
	dl, err = NewDistributedLimiter(cfg, pub, logger.Nop())
	require.NoError(t, err)

	d := dl.Allow(context.Background(), "c1", "user-service", "/")
	assert.False(t, d.Allowed)
	assert.False(t, d.FailOpen)
	assert.Equal(t, int64(1700000000000), d.ResetTime())
}

func TestDistributedLimiter_SweepKeepsUnresolved(t *testing.T) {
	dl, err := NewDistributedLimiter(shortConfig(), event.NopPublisher{}, logger.Nop())
	require.NoError(t, err)

	dl.mu.Lock()
	dl.pending["resolved"] = &pending{done: make(chan struct{}), resolved: true}
	dl.pending["waiting"] = &pending{done: make(chan struct{})}
	dl.mu.Unlock()

	assert.Equal(t, 1, dl.Sweep())
	assert.Equal(t, 1, dl.Pending())

	dl.mu.Lock()
	dl.pending["late"] = &pending{done: make(chan struct{}), resolved: true}
	dl.mu.Unlock()
	ctx := context.Background()
	require.NoError(t, dl.Start(ctx))
	assert.Eventually(t, func() bool { return dl.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, dl.Stop())
	require.NoError(t, dl.Stop())
}

func TestDistributedLimiter_ConcurrentCallers(t *testing.T) {
	bus := event.NewMemoryBus(event.WithPoolSize(16), event.WithLogger(logger.Nop()))
	defer bus.Close()

	cfg := DefaultConfig()
	cfg.Limit = 25
	cfg.ResultTimeout = 2 * time.Second
	coord, err := NewCoordinator(cfg, NewMemoryStore(), bus, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, coord.Bind(bus, "rate-limiter-service"))
	dl, err := NewDistributedLimiter(cfg, bus, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, dl.Bind(bus, "api-gateway-1"))

	var allowed, failOpen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := dl.Allow(context.Background(), "c1", "user-service", "/")
			if d.Allowed {
				allowed.Add(1)
			}
			if d.FailOpen {
				failOpen.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failOpen.Load())
	assert.Equal(t, int64(25), allowed.Load())
	assert.Equal(t, 0, dl.Pending())
}
