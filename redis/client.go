package redis

import (
	"context"
	"fmt"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient connects and pings once. Standalone and cluster both come back
// as a UniversalClient, which is what limiter.RedisStore takes.
func NewClient(ctx context.Context, cfg Config, log *logger.CtxZapLogger) (redis.UniversalClient, error) {
	if log == nil {
		log = logger.GetLogger("redis")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case ModeCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	default:
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addrs[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %v: %w", cfg.Addrs, err)
	}

	log.DebugCtx(ctx, "redis connected",
		zap.String("mode", cfg.Mode),
		zap.Strings("addrs", cfg.Addrs))
	return client, nil
}
