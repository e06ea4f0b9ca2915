package registry

import (
	"context"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindEvents(t *testing.T) {
	bus := event.NewMemoryBus(event.WithSyncDelivery(), event.WithLogger(logger.Nop()))
	defer bus.Close()
	reg, clock := newTestRegistry(t)
	log, logs := logger.NewObserved("registry")
	require.NoError(t, BindEvents(bus, "service-discovery", reg, log))
	ctx := context.Background()

	require.NoError(t, bus.PublishJSON(ctx, event.TopicServiceRegistration, "user-service", event.RegistrationEvent{
		InstanceID:  "svc-1",
		ServiceName: "user-service",
		Host:        "localhost",
		Port:        9001,
		Metadata:    map[string]string{"version": "1"},
		Load:        4,
		Timestamp:   event.Now(),
	}))
	inst, ok := reg.QuerySingle("user-service")
	require.True(t, ok)
	assert.Equal(t, 9001, inst.Port)
	assert.Equal(t, "1", inst.Metadata["version"])

	clock.Advance(25 * time.Second)
	require.NoError(t, bus.PublishJSON(ctx, event.TopicServiceHeartbeat, "user-service", event.HeartbeatEvent{
		InstanceID: "svc-1", ServiceName: "user-service", Timestamp: event.Now(),
	}))
	clock.Advance(25 * time.Second)
	inst, ok = reg.QuerySingle("user-service")
	require.True(t, ok)
	assert.Equal(t, 4, inst.Load)

	load := 9
	require.NoError(t, bus.PublishJSON(ctx, event.TopicServiceHeartbeat, "user-service", event.HeartbeatEvent{
		InstanceID: "svc-1", ServiceName: "user-service", Load: &load, Timestamp: event.Now(),
	}))
	inst, _ = reg.QuerySingle("user-service")
	assert.Equal(t, 9, inst.Load)

	require.NoError(t, bus.PublishJSON(ctx, event.TopicServiceUnregistration, "user-service", event.UnregistrationEvent{
		InstanceID: "svc-1", ServiceName: "user-service", Reason: "shutdown", Timestamp: event.Now(),
	}))
	assert.Equal(t, 0, reg.Len())

	require.NoError(t, bus.PublishJSON(ctx, event.TopicServiceRegistration, "", map[string]any{"port": "not-a-number"}))
	require.NoError(t, bus.PublishJSON(ctx, event.TopicServiceRegistration, "", map[string]any{"serviceName": "no-id", "port": 1}))
	assert.Equal(t, 2, logs.FilterMessage("drop malformed registration event").Len())
	assert.Equal(t, 0, reg.Len())
}
