package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMeshConfig(t *testing.T) {
	cfg := DefaultMeshConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BusKafka, cfg.Bus.Type)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.True(t, cfg.Middleware.TraceID.Enable)
	assert.Equal(t, "X-Trace-ID", cfg.Middleware.TraceID.TraceIDHeader)
	assert.Equal(t, []string{"/health"}, cfg.Middleware.RequestLog.SkipPaths)
	assert.Equal(t, 0, cfg.Server.Port, "role decides")
}

func TestMeshConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MeshConfig)
		wantErr string
	}{
		{"bad mode", func(c *MeshConfig) { c.Server.Mode = "loud" }, "server"},
		{"bad port", func(c *MeshConfig) { c.Server.Port = 70000 }, "server"},
		{"bad bus", func(c *MeshConfig) { c.Bus.Type = "carrier-pigeon" }, "bus.type"},
		{"kafka without brokers", func(c *MeshConfig) { c.Kafka.Brokers = []string{""} }, "kafka"},
		{"kafka ignored on memory bus", func(c *MeshConfig) {
			c.Bus.Type = BusMemory
			c.Kafka.Brokers = []string{""}
		}, ""},
		{"redis enabled without address", func(c *MeshConfig) { c.Redis.Enabled = true }, "redis"},
		{"redis disabled is not checked", func(c *MeshConfig) { c.Redis.Mode = "mesh" }, ""},
		{"bad rate limit mode", func(c *MeshConfig) { c.Gateway.RateLimitMode = "vibes" }, "gateway"},
		{"etcd enabled without prefix", func(c *MeshConfig) {
			c.Etcd.Enabled = true
			c.Etcd.Prefix = ""
		}, "etcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMeshConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Gateway ")
	require.NoError(t, err)
	assert.Equal(t, RoleGateway, r)

	_, err = ParseRole("proxy")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestRole_Runs(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, RoleAll.Runs(r), r)
		assert.True(t, r.Runs(r), r)
	}
	assert.False(t, RoleGateway.Runs(RoleBreaker))
	assert.False(t, RoleBreaker.Runs(RoleAll))
}

func TestRole_Defaults(t *testing.T) {
	assert.Equal(t, 8000, RoleGateway.DefaultPort())
	assert.Equal(t, 8084, RoleDiscovery.DefaultPort())
	assert.Equal(t, 8082, RoleBreaker.DefaultPort())
	assert.Equal(t, 8085, RoleRateLimit.DefaultPort())
	assert.Equal(t, "rate-limiter-service", RoleRateLimit.ServiceName())
	assert.Equal(t, "api-gateway", RoleGateway.ServiceName())
}
