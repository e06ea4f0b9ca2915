package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceInstance_JSON(t *testing.T) {
	inst := ServiceInstance{
		InstanceID:    "svc-1",
		ServiceName:   "user-service",
		Host:          "localhost",
		Port:          9001,
		LastHeartbeat: time.UnixMilli(1700000000123),
		Load:          2,
	}
	data, err := json.Marshal(inst)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"instanceId":"svc-1","serviceName":"user-service","host":"localhost","port":9001,
		"healthCheckUrl":"","metadata":{},"lastHeartbeat":1700000000123,"load":2
	}`, string(data))

	var back ServiceInstance
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, inst.LastHeartbeat.Equal(back.LastHeartbeat))
	assert.Equal(t, inst.InstanceID, back.InstanceID)
}

func TestFromRegistration(t *testing.T) {
	inst := FromRegistration(event.RegistrationEvent{
		InstanceID:     "svc-1",
		ServiceName:    "user-service",
		Host:           "10.0.0.5",
		Port:           9001,
		HealthCheckURL: "http://10.0.0.5:9001/actuator/health",
		Load:           7,
	})
	assert.Equal(t, "http://10.0.0.5:9001", inst.BaseURL())
	assert.Equal(t, "http://10.0.0.5:9001/actuator/health", inst.HealthCheckURL)
	assert.Equal(t, 7, inst.Load)
	assert.True(t, inst.LastHeartbeat.IsZero())
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}
