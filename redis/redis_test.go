package redis

import (
	"context"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Addr: "localhost:6379"}
	cfg.ApplyDefaults()

	assert.Equal(t, ModeStandalone, cfg.Mode)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Addrs)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad mode", Config{Mode: "sentinel", Addrs: []string{"a:1"}}},
		{"no addrs", Config{Mode: ModeStandalone}},
		{"db out of range", Config{Mode: ModeStandalone, Addrs: []string{"a:1"}, DB: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()}, logger.Nop())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), Config{Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: -1}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Mode: "sentinel", Addr: "a:1"}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis config")
}

func TestHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr(), MaxRetries: -1}, logger.Nop())
	require.NoError(t, err)
	defer client.Close()

	hc := NewHealthChecker(client)
	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Check(context.Background()))

	mr.Close()
	assert.Error(t, hc.Check(context.Background()))

	assert.Error(t, NewHealthChecker(nil).Check(context.Background()))
}

func TestMetricsHook(t *testing.T) {
	mr := miniredis.RunT(t)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	hook, err := NewMetricsHook(provider.Meter("test"))
	require.NoError(t, err)

	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()}, logger.Nop())
	require.NoError(t, err)
	defer client.Close()
	client.AddHook(hook)

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	require.NoError(t, client.Get(ctx, "k").Err())
	require.ErrorIs(t, client.Get(ctx, "missing").Err(), redis.Nil)

	pipe := client.Pipeline()
	pipe.Incr(ctx, "n")
	pipe.Incr(ctx, "n")
	_, err = pipe.Exec(ctx)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "redis_commands_total" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				cmd, _ := dp.Attributes.Value(attribute.Key("command"))
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[cmd.AsString()+"/"+status.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"set/ok":  1,
		"get/ok":  2,
		"incr/ok": 2,
	}, counts)
}
