package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T, clock *fakeClock) (*miniredis.Miniredis, *redis.Client, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client, NewRedisStore(client, "ratelimit:", WithClock(clock.Now))
}

func TestStores_FixedWindow(t *testing.T) {
	stores := map[string]func(t *testing.T, clock *fakeClock) Store{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(WithClock(clock.Now))
		},
		"redis": func(t *testing.T, clock *fakeClock) Store {
			_, _, s := setupMiniRedis(t, clock)
			return s
		},
	}

	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := build(t, clock)
			defer store.Close()
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				d, err := store.Take(ctx, "user-service:c1", 3, time.Minute)
				require.NoError(t, err)
				assert.True(t, d.Allowed)
				assert.Equal(t, 2-i, d.Remaining)
				assert.Equal(t, 3, d.Limit)
			}

			d, err := store.Take(ctx, "user-service:c1", 3, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), d.ResetTime())

			d, err = store.Take(ctx, "notification-service:c1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			clock.Advance(time.Minute + time.Millisecond)
			d, err = store.Take(ctx, "user-service:c1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 2, d.Remaining)
		})
	}
}

func TestRedisStore_KeyExpires(t *testing.T) {
	clock := newFakeClock()
	mr, _, store := setupMiniRedis(t, clock)
	ctx := context.Background()

	_, err := store.Take(ctx, "user-service:c1", 10, time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("ratelimit:user-service:c1"))
	assert.Equal(t, "1", mr.HGet("ratelimit:user-service:c1", "count"))

	mr.FastForward(time.Minute + time.Second)
	assert.False(t, mr.Exists("ratelimit:user-service:c1"))

	n, err := store.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisStore_ServerDown(t *testing.T) {
	clock := newFakeClock()
	mr, _, store := setupMiniRedis(t, clock)
	mr.Close()

	_, err := store.Take(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)
}

func TestMemoryStore_SweepAndClose(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = store.Take(ctx, "a", 1, time.Minute)
	clock.Advance(2 * time.Hour)
	_, _ = store.Take(ctx, "b", 1, time.Minute)

	n, err := store.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, store.Keys())

	require.NoError(t, store.Close())
	_, err = store.Take(ctx, "a", 1, time.Minute)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{Store: StoreMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(Config{Store: StoreRedis}, nil)
	assert.Error(t, err)

	_, err = NewStore(Config{Store: "etcd"}, nil)
	assert.ErrorIs(t, err, ErrUnknownStore)
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())

	cfg.Store = "disk"
	assert.Error(t, cfg.Validate())
}
