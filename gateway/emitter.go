package gateway

import (
	"context"
	"sync"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Emitter publishes breaker and gateway events off the request path. A
// publish failure is logged and otherwise ignored; when the pool is full the
// event is dropped.
type Emitter struct {
	pub    event.Publisher
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *logger.CtxZapLogger
}

// NewEmitter publishes on pub through a pool of size workers. size 0 makes
// every publish synchronous.
func NewEmitter(pub event.Publisher, size int, log *logger.CtxZapLogger) (*Emitter, error) {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	if log == nil {
		log = logger.GetLogger("gateway")
	}
	e := &Emitter{pub: pub, logger: log}
	if size > 0 {
		pool, err := ants.NewPool(size, ants.WithNonblocking(true))
		if err != nil {
			return nil, err
		}
		e.pool = pool
	}
	return e, nil
}

func (e *Emitter) Breaker(ctx context.Context, typ event.BreakerEventType, service, path, method string) {
	e.publish(ctx, event.TopicCircuitBreaker, service, event.BreakerEvent{
		BreakerName: service,
		ServiceName: service,
		Type:        typ,
		Path:        path,
		Method:      method,
		Timestamp:   event.Now(),
	})
}

func (e *Emitter) Gateway(ctx context.Context, ev event.GatewayEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = event.Now()
	}
	e.publish(ctx, event.TopicGateway, ev.ServiceName, ev)
}

func (e *Emitter) publish(ctx context.Context, topic, key string, payload any) {
	ctx = context.WithoutCancel(ctx)
	send := func() {
		if err := e.pub.PublishJSON(ctx, topic, key, payload); err != nil {
			e.logger.WarnCtx(ctx, "publish event failed",
				zap.String("topic", topic),
				zap.String("key", key),
				zap.Error(err))
		}
	}
	if e.pool == nil {
		send()
		return
	}
	e.wg.Add(1)
	if err := e.pool.Submit(func() {
		defer e.wg.Done()
		send()
	}); err != nil {
		e.wg.Done()
		e.logger.DebugCtx(ctx, "event dropped", zap.String("topic", topic), zap.Error(err))
	}
}

// Flush waits for every submitted event.
func (e *Emitter) Flush() {
	e.wg.Wait()
}

func (e *Emitter) Close() {
	e.Flush()
	if e.pool != nil {
		e.pool.Release()
	}
}
