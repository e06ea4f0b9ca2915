package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store owns the coordinator's windows. Take must count one request and
// decide in a single atomic step per key.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)

	// Sweep evicts windows idle for longer than maxIdle and reports how many
	// went. Stores that expire keys on their own return 0.
	Sweep(ctx context.Context, maxIdle time.Duration) (int, error)

	Close() error
}

// NewStore builds the store named by cfg.Store. client is required for redis.
func NewStore(cfg Config, client redis.Scripter, opts ...Option) (Store, error) {
	switch cfg.Store {
	case "", StoreMemory:
		return NewMemoryStore(opts...), nil
	case StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(client, cfg.KeyPrefix, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, cfg.Store)
	}
}
