package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// MemoryBus is an in-process Publisher and Subscriber. Handlers run on an
// ants pool unless the bus is synchronous. It backs the single-process mode
// and tests.
//
// The pool never blocks a publisher: when every worker is busy, delivery
// falls back to a plain goroutine, so handlers may publish on the same bus.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[string]map[string][]Handler // topic -> group -> handlers
	rr       map[string]*uint64              // topic/group -> round robin cursor
	pool     *ants.Pool
	poolSize int
	sync     bool
	closed   int32
	wg       sync.WaitGroup
	logger   *logger.CtxZapLogger
}

// MemoryBusOption configures a MemoryBus.
type MemoryBusOption func(*MemoryBus)

// WithPoolSize sets the delivery pool size (default 100).
func WithPoolSize(size int) MemoryBusOption {
	return func(b *MemoryBus) {
		b.poolSize = size
	}
}

// WithSyncDelivery runs handlers on the publishing goroutine.
func WithSyncDelivery() MemoryBusOption {
	return func(b *MemoryBus) {
		b.sync = true
	}
}

// WithLogger overrides the "event" module logger.
func WithLogger(l *logger.CtxZapLogger) MemoryBusOption {
	return func(b *MemoryBus) {
		b.logger = l
	}
}

func NewMemoryBus(opts ...MemoryBusOption) *MemoryBus {
	b := &MemoryBus{
		subs:     make(map[string]map[string][]Handler),
		rr:       make(map[string]*uint64),
		poolSize: 100,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.GetLogger("event")
	}

	if !b.sync {
		pool, err := ants.NewPool(b.poolSize, ants.WithNonblocking(true))
		if err != nil {
			b.logger.Error("create worker pool failed, using default size", zap.Error(err))
			pool, _ = ants.NewPool(100, ants.WithNonblocking(true))
		}
		b.pool = pool
	}
	return b
}

// Subscribe adds handler to group on topic. Within one group the handlers
// share messages round robin; every group receives every message.
func (b *MemoryBus) Subscribe(topic, group string, handler Handler) error {
	if topic == "" {
		return ErrTopicRequired
	}
	if atomic.LoadInt32(&b.closed) == 1 {
		return ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	groups, ok := b.subs[topic]
	if !ok {
		groups = make(map[string][]Handler)
		b.subs[topic] = groups
	}
	groups[group] = append(groups[group], handler)
	if _, ok := b.rr[topic+"/"+group]; !ok {
		b.rr[topic+"/"+group] = new(uint64)
	}
	return nil
}

// PublishJSON encodes payload and hands it to one handler per group.
func (b *MemoryBus) PublishJSON(ctx context.Context, topic, key string, payload any) error {
	if topic == "" {
		return ErrTopicRequired
	}
	if atomic.LoadInt32(&b.closed) == 1 {
		return ErrBusClosed
	}
	data, err := Encode(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs[topic]))
	for group, handlers := range b.subs[topic] {
		if len(handlers) == 0 {
			continue
		}
		i := atomic.AddUint64(b.rr[topic+"/"+group], 1) - 1
		targets = append(targets, handlers[i%uint64(len(handlers))])
	}
	b.mu.RUnlock()

	deliverCtx := detach(ctx)
	for _, h := range targets {
		h := h
		msg := NewMessage(topic, key, data, nil)
		if b.sync {
			b.deliver(deliverCtx, h, msg)
			continue
		}
		b.wg.Add(1)
		task := func() {
			defer b.wg.Done()
			b.deliver(deliverCtx, h, msg)
		}
		err := b.pool.Submit(task)
		switch {
		case err == nil:
		case errors.Is(err, ants.ErrPoolOverload):
			go task()
		default:
			b.wg.Done()
			return fmt.Errorf("submit delivery on %s: %w", topic, err)
		}
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, h Handler, msg *Message) {
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorCtx(ctx, "event handler panicked",
				zap.String("topic", msg.Topic),
				zap.Any("panic", r))
		}
	}()

	if err := h(ctx, msg); err != nil {
		b.logger.WarnCtx(ctx, "handle message failed",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err))
	}
}

// Drain waits until every submitted delivery has finished.
func (b *MemoryBus) Drain() {
	b.wg.Wait()
}

// Close stops accepting messages, waits for in-flight deliveries and releases the pool.
func (b *MemoryBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	b.wg.Wait()
	if b.pool != nil {
		b.pool.Release()
	}
	return nil
}

// detach keeps the trace id but drops the caller's deadline and cancellation.
func detach(ctx context.Context) context.Context {
	out := context.Background()
	if traceID := logger.TraceIDFromContext(ctx, ""); traceID != "" {
		out = logger.WithTraceID(out, traceID)
	}
	return out
}

var (
	_ Publisher  = (*MemoryBus)(nil)
	_ Subscriber = (*MemoryBus)(nil)
)
