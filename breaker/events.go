package breaker

import (
	"context"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"go.uber.org/zap"
)

// BindEvents applies circuit-breaker-events to reg: recorded outcomes
// update the named breaker, checks and blocks are only logged. A payload
// that cannot be decoded or names no breaker is logged and acknowledged.
func BindEvents(sub event.Subscriber, group string, reg *Registry, log *logger.CtxZapLogger) error {
	if log == nil {
		log = logger.GetLogger("breaker")
	}
	return sub.Subscribe(event.TopicCircuitBreaker, group, func(ctx context.Context, msg *event.Message) error {
		ev, err := event.Decode[event.BreakerEvent](msg.Value)
		if err != nil {
			log.WarnCtx(ctx, "drop malformed breaker event", zap.Error(err))
			return nil
		}
		applyEvent(ctx, reg, ev, log)
		return nil
	})
}

func applyEvent(ctx context.Context, reg *Registry, ev event.BreakerEvent, log *logger.CtxZapLogger) {
	switch ev.Type {
	case event.BreakerSuccessRecorded:
		reg.Get(ev.BreakerName).RecordSuccess()
	case event.BreakerFailureRecorded:
		reg.Get(ev.BreakerName).RecordFailure()
	case event.BreakerCheckRequest, event.BreakerRequestBlocked:
		log.DebugCtx(ctx, "breaker event observed",
			zap.String("breaker", ev.BreakerName),
			zap.String("type", string(ev.Type)),
			zap.String("path", ev.Path),
			zap.String("method", ev.Method))
	}
}
