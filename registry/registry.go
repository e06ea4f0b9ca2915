// Package registry is the in-memory membership table of backend instances:
// who is alive and where. Entries are refreshed by heartbeats and evicted by
// a periodic sweep once they fall silent for longer than the liveness TTL.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// ErrServiceNotFound is returned when no alive instance serves a name.
var ErrServiceNotFound = errors.New("service not found")

type entry struct {
	instance ServiceInstance
	seq      uint64
}

// Registry is safe for concurrent use. No operation blocks on I/O.
type Registry struct {
	config Config
	logger *logger.CtxZapLogger
	now    func() time.Time

	mu        sync.RWMutex
	instances map[string]*entry
	seq       uint64

	listenerMu sync.RWMutex
	listeners  []Listener

	schedMu   sync.Mutex
	scheduler gocron.Scheduler

	metrics atomic.Pointer[Metrics]
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(cfg Config, log *logger.CtxZapLogger, opts ...Option) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry config: %w", err)
	}
	if log == nil {
		log = logger.GetLogger("registry")
	}
	r := &Registry{
		config:    cfg,
		logger:    log,
		now:       time.Now,
		instances: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) Config() Config {
	return r.config
}

// Register inserts or replaces the instance and stamps its heartbeat. A
// replaced instance keeps its original position among equal-load peers.
func (r *Registry) Register(ctx context.Context, inst ServiceInstance) {
	inst = inst.clone()
	inst.LastHeartbeat = r.now()
	if inst.HealthCheckURL == "" {
		inst.HealthCheckURL = inst.BaseURL() + "/health"
	}

	r.mu.Lock()
	if e, ok := r.instances[inst.InstanceID]; ok {
		e.instance = inst
	} else {
		r.seq++
		r.instances[inst.InstanceID] = &entry{instance: inst, seq: r.seq}
	}
	r.mu.Unlock()

	r.logger.InfoCtx(ctx, "service instance registered",
		zap.String("instance_id", inst.InstanceID),
		zap.String("service", inst.ServiceName),
		zap.String("address", inst.BaseURL()))
	r.count(ctx, "registered", inst.ServiceName)
	r.notify(ctx, inst, true)
}

// Heartbeat refreshes a known instance. An unknown id is logged and ignored.
func (r *Registry) Heartbeat(ctx context.Context, instanceID string) bool {
	return r.heartbeat(ctx, instanceID, nil)
}

// HeartbeatWithLoad refreshes a known instance and records its reported load.
func (r *Registry) HeartbeatWithLoad(ctx context.Context, instanceID string, load int) bool {
	return r.heartbeat(ctx, instanceID, &load)
}

func (r *Registry) heartbeat(ctx context.Context, instanceID string, load *int) bool {
	r.mu.Lock()
	e, ok := r.instances[instanceID]
	var service string
	if ok {
		e.instance.LastHeartbeat = r.now()
		if load != nil {
			e.instance.Load = *load
		}
		service = e.instance.ServiceName
	}
	r.mu.Unlock()

	if !ok {
		r.logger.WarnCtx(ctx, "heartbeat for unknown instance", zap.String("instance_id", instanceID))
		return false
	}
	r.logger.DebugCtx(ctx, "heartbeat", zap.String("instance_id", instanceID))
	r.count(ctx, "heartbeat", service)
	return true
}

// Unregister removes the instance if present.
func (r *Registry) Unregister(ctx context.Context, instanceID string) bool {
	r.mu.Lock()
	e, ok := r.instances[instanceID]
	if ok {
		delete(r.instances, instanceID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.DebugCtx(ctx, "unregister of unknown instance", zap.String("instance_id", instanceID))
		return false
	}
	r.logger.InfoCtx(ctx, "service instance unregistered",
		zap.String("instance_id", instanceID),
		zap.String("service", e.instance.ServiceName))
	r.count(ctx, "unregistered", e.instance.ServiceName)
	r.notify(ctx, e.instance, false)
	return true
}

// QueryAlive returns a snapshot of the alive instances of service ordered by
// ascending load, ties by registration order.
func (r *Registry) QueryAlive(service string) []ServiceInstance {
	now := r.now()
	ttl := r.config.LivenessTTL

	r.mu.RLock()
	matched := make([]*entry, 0)
	for _, e := range r.instances {
		if e.instance.ServiceName == service && e.instance.Alive(now, ttl) {
			matched = append(matched, &entry{instance: e.instance.clone(), seq: e.seq})
		}
	}
	r.mu.RUnlock()

	sortEntries(matched)
	out := make([]ServiceInstance, len(matched))
	for i, e := range matched {
		out[i] = e.instance
	}
	return out
}

// QuerySingle returns the lowest-load alive instance of service.
func (r *Registry) QuerySingle(service string) (ServiceInstance, bool) {
	alive := r.QueryAlive(service)
	if len(alive) == 0 {
		return ServiceInstance{}, false
	}
	return alive[0], true
}

// Lookup implements the gateway's discovery contract.
func (r *Registry) Lookup(_ context.Context, service string) (ServiceInstance, error) {
	inst, ok := r.QuerySingle(service)
	if !ok {
		return ServiceInstance{}, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	return inst, nil
}

// All returns every registered instance, alive or not, in registration order.
func (r *Registry) All() []ServiceInstance {
	r.mu.RLock()
	list := make([]*entry, 0, len(r.instances))
	for _, e := range r.instances {
		list = append(list, &entry{instance: e.instance.clone(), seq: e.seq})
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]ServiceInstance, len(list))
	for i, e := range list {
		out[i] = e.instance
	}
	return out
}

// Services returns the sorted names of services with at least one entry.
func (r *Registry) Services() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range r.instances {
		seen[e.instance.ServiceName] = struct{}{}
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Sweep removes dead instances and returns how many were removed. The dead
// set is taken from a snapshot; each removal re-checks liveness so a
// heartbeat that lands mid-sweep keeps its instance.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()
	ttl := r.config.LivenessTTL

	r.mu.RLock()
	var candidates []string
	for id, e := range r.instances {
		if !e.instance.Alive(now, ttl) {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range candidates {
		r.mu.Lock()
		e, ok := r.instances[id]
		if ok && !e.instance.Alive(r.now(), ttl) {
			delete(r.instances, id)
		} else {
			ok = false
		}
		r.mu.Unlock()
		if !ok {
			continue
		}

		removed++
		r.logger.InfoCtx(ctx, "evicted dead service instance",
			zap.String("instance_id", id),
			zap.String("service", e.instance.ServiceName),
			zap.Time("last_heartbeat", e.instance.LastHeartbeat))
		r.count(ctx, "expired", e.instance.ServiceName)
		r.notify(ctx, e.instance, false)
	}
	if removed > 0 {
		r.logger.InfoCtx(ctx, "sweep completed", zap.Int("removed", removed))
	}
	return removed
}

// Start schedules Sweep every SweepInterval until Stop.
func (r *Registry) Start(ctx context.Context) error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweep scheduler: %w", err)
	}
	sweepCtx := context.WithoutCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(r.config.SweepInterval),
		gocron.NewTask(func() { r.Sweep(sweepCtx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("registry-sweep"),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.Start()
	r.scheduler = s

	r.logger.InfoCtx(ctx, "registry sweep started",
		zap.Duration("interval", r.config.SweepInterval),
		zap.Duration("liveness_ttl", r.config.LivenessTTL))
	return nil
}

func (r *Registry) Stop() error {
	r.schedMu.Lock()
	s := r.scheduler
	r.scheduler = nil
	r.schedMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

func sortEntries(list []*entry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].instance.Load != list[j].instance.Load {
			return list[i].instance.Load < list[j].instance.Load
		}
		return list[i].seq < list[j].seq
	})
}

func (r *Registry) count(ctx context.Context, kind, service string) {
	if m := r.metrics.Load(); m != nil {
		m.recordEvent(ctx, kind, service)
	}
}
