package registry

import (
	"context"

	"go.uber.org/zap"
)

// Listener observes membership changes. It runs on the goroutine of the
// operation that caused the change.
type Listener interface {
	OnRegistered(ctx context.Context, inst ServiceInstance) error
	OnUnregistered(ctx context.Context, inst ServiceInstance) error
}

// ListenerFuncs adapts functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Registered   func(ctx context.Context, inst ServiceInstance) error
	Unregistered func(ctx context.Context, inst ServiceInstance) error
}

func (f ListenerFuncs) OnRegistered(ctx context.Context, inst ServiceInstance) error {
	if f.Registered == nil {
		return nil
	}
	return f.Registered(ctx, inst)
}

func (f ListenerFuncs) OnUnregistered(ctx context.Context, inst ServiceInstance) error {
	if f.Unregistered == nil {
		return nil
	}
	return f.Unregistered(ctx, inst)
}

func (r *Registry) AddListener(l Listener) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

func (r *Registry) notify(ctx context.Context, inst ServiceInstance, registered bool) {
	r.listenerMu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		r.safeNotify(ctx, l, inst.clone(), registered)
	}
}

// safeNotify turns a listener error or panic into a log entry.
func (r *Registry) safeNotify(ctx context.Context, l Listener, inst ServiceInstance, registered bool) {
	kind := "unregistered"
	if registered {
		kind = "registered"
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorCtx(ctx, "registry listener panicked",
				zap.String("event", kind),
				zap.String("instance_id", inst.InstanceID),
				zap.Any("panic", rec))
		}
	}()

	var err error
	if registered {
		err = l.OnRegistered(ctx, inst)
	} else {
		err = l.OnUnregistered(ctx, inst)
	}
	if err != nil {
		r.logger.ErrorCtx(ctx, "registry listener failed",
			zap.String("event", kind),
			zap.String("instance_id", inst.InstanceID),
			zap.Error(err))
	}
}
