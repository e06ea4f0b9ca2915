package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript is the fixed-window step. The hash holds the window start and
// count; its TTL is one window past the last access so idle keys expire on
// their own.
//
// KEYS[1] window key
// ARGV[1] limit, ARGV[2] window ms, ARGV[3] now ms
// returns {count, start ms}
var takeScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
if start == 0 or now - start > window then
  start = now
  count = 0
end
count = count + 1
redis.call('HSET', KEYS[1], 'start', start, 'count', count)
redis.call('PEXPIRE', KEYS[1], window)
return {count, start}
`)

// RedisStore shares windows between coordinator replicas. The client is
// owned by the caller.
type RedisStore struct {
	client    redis.Scripter
	keyPrefix string
	now       func() time.Time
}

func NewRedisStore(client redis.Scripter, keyPrefix string, opts ...Option) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultConfig().KeyPrefix
	}
	o := buildOptions(opts)
	return &RedisStore{client: client, keyPrefix: keyPrefix, now: o.now}
}

func (s *RedisStore) buildKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	windowMs := window.Milliseconds()
	res, err := takeScript.Run(ctx, s.client, []string{s.buildKey(key)}, limit, windowMs, s.now().UnixMilli()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis take %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis take %s: unexpected reply %v", key, res)
	}

	count := int(res[0])
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   time.UnixMilli(res[1] + windowMs),
	}, nil
}

// Sweep is a no-op: Redis expires idle windows itself.
func (s *RedisStore) Sweep(context.Context, time.Duration) (int, error) {
	return 0, nil
}

// Close does not close the client, which the caller owns.
func (s *RedisStore) Close() error {
	return nil
}
