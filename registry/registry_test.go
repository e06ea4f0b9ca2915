package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg, err := New(DefaultConfig(), logger.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	return reg, clock
}

func instance(id, service string, port, load int) ServiceInstance {
	return ServiceInstance{InstanceID: id, ServiceName: service, Host: "localhost", Port: port, Load: load}
}

func ids(list []ServiceInstance) []string {
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.InstanceID
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{LivenessTTL: time.Millisecond, SweepInterval: time.Second}, logger.Nop())
	assert.Error(t, err)
}

func TestRegister_StampsHeartbeatAndHealthURL(t *testing.T) {
	reg, clock := newTestRegistry(t)
	ctx := context.Background()

	reg.Register(ctx, instance("svc-1", "user-service", 9001, 0))

	inst, ok := reg.QuerySingle("user-service")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), inst.LastHeartbeat)
	assert.Equal(t, "http://localhost:9001/health", inst.HealthCheckURL)
	assert.Equal(t, "http://localhost:9001", inst.BaseURL())
}

func TestQueryAlive_OrdersByLoadThenRegistration(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.Register(ctx, instance("a", "user-service", 9001, 5))
	reg.Register(ctx, instance("b", "user-service", 9002, 1))
	reg.Register(ctx, instance("c", "user-service", 9003, 5))
	reg.Register(ctx, instance("d", "user-service", 9004, 1))
	reg.Register(ctx, instance("x", "notification-service", 9100, 0))

	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(reg.QueryAlive("user-service")))
	assert.Empty(t, reg.QueryAlive("missing"))

	// re-registration replaces the entry but keeps its place among equals
	reg.Register(ctx, instance("a", "user-service", 9011, 1))
	assert.Equal(t, []string{"a", "b", "d", "c"}, ids(reg.QueryAlive("user-service")))
	assert.Equal(t, 5, reg.Len())
	assert.Equal(t, []string{"notification-service", "user-service"}, reg.Services())
}

func TestQueryAlive_ReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(t)
	inst := instance("a", "user-service", 9001, 0)
	inst.Metadata = map[string]string{"zone": "a"}
	reg.Register(context.Background(), inst)

	got := reg.QueryAlive("user-service")
	got[0].Metadata["zone"] = "mutated"
	inst.Metadata["zone"] = "mutated"

	again, _ := reg.QuerySingle("user-service")
	assert.Equal(t, "a", again.Metadata["zone"])
}

func TestHeartbeat(t *testing.T) {
	log, logs := logger.NewObserved("registry")
	clock := newFakeClock()
	reg, err := New(DefaultConfig(), log, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, reg.Heartbeat(ctx, "ghost"))
	assert.Equal(t, 1, logs.FilterMessage("heartbeat for unknown instance").Len())
	assert.Equal(t, 0, reg.Len())

	reg.Register(ctx, instance("a", "user-service", 9001, 3))
	clock.Advance(20 * time.Second)
	assert.True(t, reg.Heartbeat(ctx, "a"))
	clock.Advance(20 * time.Second)

	inst, ok := reg.QuerySingle("user-service")
	require.True(t, ok)
	assert.Equal(t, 3, inst.Load)

	assert.True(t, reg.HeartbeatWithLoad(ctx, "a", 7))
	inst, _ = reg.QuerySingle("user-service")
	assert.Equal(t, 7, inst.Load)
}

func TestLiveness_TTLIsStrict(t *testing.T) {
	reg, clock := newTestRegistry(t)
	reg.Register(context.Background(), instance("a", "user-service", 9001, 0))

	clock.Advance(30*time.Second - time.Millisecond)
	assert.Len(t, reg.QueryAlive("user-service"), 1)

	clock.Advance(time.Millisecond)
	assert.Empty(t, reg.QueryAlive("user-service"))
	_, ok := reg.QuerySingle("user-service")
	assert.False(t, ok)

	// dead but not yet swept
	assert.Len(t, reg.All(), 1)
}

func TestUnregister(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	reg.Register(ctx, instance("a", "user-service", 9001, 0))

	assert.True(t, reg.Unregister(ctx, "a"))
	assert.False(t, reg.Unregister(ctx, "a"))
	assert.Empty(t, reg.QueryAlive("user-service"))
}

func TestLookup(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Lookup(ctx, "user-service")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	reg.Register(ctx, instance("a", "user-service", 9001, 0))
	inst, err := reg.Lookup(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "a", inst.InstanceID)
}

func TestSweep_RemovesOnlyDead(t *testing.T) {
	reg, clock := newTestRegistry(t)
	ctx := context.Background()

	var mu sync.Mutex
	var removed []string
	reg.AddListener(ListenerFuncs{Unregistered: func(_ context.Context, inst ServiceInstance) error {
		mu.Lock()
		removed = append(removed, inst.InstanceID)
		mu.Unlock()
		return nil
	}})

	reg.Register(ctx, instance("old", "user-service", 9001, 0))
	clock.Advance(20 * time.Second)
	reg.Register(ctx, instance("new", "user-service", 9002, 0))
	clock.Advance(15 * time.Second)

	assert.Equal(t, 1, reg.Sweep(ctx))
	assert.Equal(t, []string{"new"}, ids(reg.All()))
	assert.Equal(t, []string{"old"}, removed)
	assert.Equal(t, 0, reg.Sweep(ctx))
}

func TestListeners_AreIsolated(t *testing.T) {
	log, logs := logger.NewObserved("registry")
	reg, err := New(DefaultConfig(), log)
	require.NoError(t, err)
	ctx := context.Background()

	var got []string
	reg.AddListener(ListenerFuncs{Registered: func(context.Context, ServiceInstance) error {
		panic("boom")
	}})
	reg.AddListener(ListenerFuncs{Registered: func(context.Context, ServiceInstance) error {
		return errors.New("listener down")
	}})
	reg.AddListener(ListenerFuncs{
		Registered: func(_ context.Context, inst ServiceInstance) error {
			got = append(got, "registered:"+inst.InstanceID)
			return nil
		},
		Unregistered: func(_ context.Context, inst ServiceInstance) error {
			got = append(got, "unregistered:"+inst.InstanceID)
			return nil
		},
	})

	reg.Register(ctx, instance("a", "user-service", 9001, 0))
	reg.Unregister(ctx, "a")

	assert.Equal(t, []string{"registered:a", "unregistered:a"}, got)
	assert.Equal(t, 1, logs.FilterMessage("registry listener panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("registry listener failed").Len())
}

func TestConcurrentRegistrations(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.Register(ctx, instance("svc-1", "user-service", 9001, 10))
	}()
	go func() {
		defer wg.Done()
		reg.Register(ctx, instance("svc-2", "user-service", 9002, 2))
	}()
	wg.Wait()

	alive := reg.QueryAlive("user-service")
	assert.ElementsMatch(t, []string{"svc-1", "svc-2"}, ids(alive))
	single, ok := reg.QuerySingle("user-service")
	require.True(t, ok)
	assert.Equal(t, "svc-2", single.InstanceID)
}

func TestConcurrentHeartbeatsAndSweeps(t *testing.T) {
	reg, clock := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		reg.Register(ctx, instance(fmt.Sprintf("i-%d", i), "user-service", 9000+i, i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg.Heartbeat(ctx, fmt.Sprintf("i-%d", i))
				_ = reg.QueryAlive("user-service")
				if j%10 == 0 {
					reg.Sweep(ctx)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, reg.QueryAlive("user-service"), 20)
	clock.Advance(time.Minute)
	assert.Equal(t, 20, reg.Sweep(ctx))
	assert.Equal(t, 0, reg.Len())
}

func TestStartStop(t *testing.T) {
	clock := newFakeClock()
	reg, err := New(Config{LivenessTTL: time.Second, SweepInterval: 20 * time.Millisecond}, logger.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	reg.Register(ctx, instance("a", "user-service", 9001, 0))
	clock.Advance(2 * time.Second)

	require.NoError(t, reg.Start(ctx))
	require.NoError(t, reg.Start(ctx))
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, reg.Stop())
	require.NoError(t, reg.Stop())
}
