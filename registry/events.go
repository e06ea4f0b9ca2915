package registry

import (
	"context"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"go.uber.org/zap"
)

// BindEvents applies the three membership topics to reg. Malformed payloads
// are logged and acknowledged.
func BindEvents(sub event.Subscriber, group string, reg *Registry, log *logger.CtxZapLogger) error {
	if log == nil {
		log = logger.GetLogger("registry")
	}

	err := sub.Subscribe(event.TopicServiceRegistration, group, func(ctx context.Context, msg *event.Message) error {
		ev, err := event.Decode[event.RegistrationEvent](msg.Value)
		if err != nil {
			log.WarnCtx(ctx, "drop malformed registration event", zap.Error(err), zap.String("key", msg.Key))
			return nil
		}
		reg.Register(ctx, FromRegistration(ev))
		return nil
	})
	if err != nil {
		return err
	}

	err = sub.Subscribe(event.TopicServiceHeartbeat, group, func(ctx context.Context, msg *event.Message) error {
		ev, err := event.Decode[event.HeartbeatEvent](msg.Value)
		if err != nil {
			log.WarnCtx(ctx, "drop malformed heartbeat event", zap.Error(err), zap.String("key", msg.Key))
			return nil
		}
		if ev.Load != nil {
			reg.HeartbeatWithLoad(ctx, ev.InstanceID, *ev.Load)
		} else {
			reg.Heartbeat(ctx, ev.InstanceID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return sub.Subscribe(event.TopicServiceUnregistration, group, func(ctx context.Context, msg *event.Message) error {
		ev, err := event.Decode[event.UnregistrationEvent](msg.Value)
		if err != nil {
			log.WarnCtx(ctx, "drop malformed unregistration event", zap.Error(err), zap.String("key", msg.Key))
			return nil
		}
		if reg.Unregister(ctx, ev.InstanceID) && ev.Reason != "" {
			log.DebugCtx(ctx, "unregistration reason",
				zap.String("instance_id", ev.InstanceID),
				zap.String("reason", ev.Reason))
		}
		return nil
	})
}
