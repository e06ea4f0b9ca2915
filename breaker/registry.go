package breaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"go.uber.org/zap"
)

// StateListener observes every transition of every breaker in a Registry.
type StateListener interface {
	OnStateChange(name string, from, to State)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(name string, from, to State)

func (f StateListenerFunc) OnStateChange(name string, from, to State) {
	f(name, from, to)
}

// Registry creates breakers on first lookup and owns them for the process lifetime.
type Registry struct {
	config Config
	logger *logger.CtxZapLogger
	now    func() time.Time

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	listenerMu sync.RWMutex
	listeners  []StateListener

	metrics atomic.Pointer[Metrics]
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now for every breaker the registry creates.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStateListener registers l before any breaker exists.
func WithStateListener(l StateListener) RegistryOption {
	return func(r *Registry) {
		r.listeners = append(r.listeners, l)
	}
}

func NewRegistry(cfg Config, log *logger.CtxZapLogger, opts ...RegistryOption) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker config: %w", err)
	}
	if log == nil {
		log = logger.GetLogger("breaker")
	}

	r := &Registry{
		config:   cfg,
		logger:   log,
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the breaker for name, creating it with its configured settings.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	rc := r.config.For(name)
	cb := newCircuitBreaker(name, rc, r.now, r.dispatch, &r.metrics)
	r.breakers[name] = cb

	r.logger.Debug("circuit breaker created",
		zap.String("breaker", name),
		zap.Int("failure_threshold", rc.FailureThreshold),
		zap.Duration("open_timeout", rc.OpenTimeout))
	return cb
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// State is CLOSED for a breaker that does not exist yet.
func (r *Registry) State(name string) State {
	if cb, ok := r.Lookup(name); ok {
		return cb.State()
	}
	return StateClosed
}

// All returns snapshots of every breaker ordered by name.
func (r *Registry) All() []Snapshot {
	r.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) AddStateListener(l StateListener) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

// dispatch logs the transition and fans it out. A panicking listener is
// logged and skipped.
func (r *Registry) dispatch(name string, from, to State) {
	fields := []zap.Field{
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	if to == StateOpen {
		r.logger.Warn("circuit breaker opened", fields...)
	} else {
		r.logger.Info("circuit breaker state changed", fields...)
	}

	r.listenerMu.RLock()
	listeners := append([]StateListener(nil), r.listeners...)
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		r.safeNotify(l, name, from, to)
	}
}

func (r *Registry) safeNotify(l StateListener, name string, from, to State) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorCtx(context.Background(), "state listener panicked",
				zap.String("breaker", name),
				zap.Any("panic", rec))
		}
	}()
	l.OnStateChange(name, from, to)
}

// Check evaluates Allow on the named breaker. It implements Checker.
func (r *Registry) Check(_ context.Context, name string) Decision {
	cb := r.Get(name)
	allowed := cb.Allow()
	return Decision{Name: name, Allowed: allowed, State: cb.State()}
}
