package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/registry"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// ErrNoInstance is returned when neither discovery nor the fallbacks know the service.
var ErrNoInstance = errors.New("no instance available")

// Source tells where a resolved instance came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceDiscovery Source = "discovery"
	SourceStale     Source = "stale"
	SourceStatic    Source = "static"
)

// Resolver turns a service name into an instance: the TTL cache first, then
// discovery, then the last instance discovery ever returned, then the static
// address book.
type Resolver struct {
	discovery registry.Discovery
	timeout   time.Duration
	cache     *expirable.LRU[string, registry.ServiceInstance]
	logger    *logger.CtxZapLogger

	mu     sync.RWMutex
	stale  map[string]registry.ServiceInstance
	static map[string]registry.ServiceInstance
}

// NewResolver builds a resolver over discovery, which may be nil when only
// the static table is wanted.
func NewResolver(discovery registry.Discovery, cfg Config, log *logger.CtxZapLogger) (*Resolver, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetLogger("gateway")
	}
	static := make(map[string]registry.ServiceInstance, len(cfg.StaticInstances))
	for service, addr := range cfg.StaticInstances {
		host, port, err := splitAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("static instance %s: %w", service, err)
		}
		static[service] = registry.ServiceInstance{
			InstanceID:  "static-" + service,
			ServiceName: service,
			Host:        host,
			Port:        port,
		}
	}
	return &Resolver{
		discovery: discovery,
		timeout:   cfg.LookupTimeout,
		cache:     expirable.NewLRU[string, registry.ServiceInstance](cfg.InstanceCacheSize, nil, cfg.InstanceTTL),
		logger:    log,
		stale:     make(map[string]registry.ServiceInstance),
		static:    static,
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, service string) (registry.ServiceInstance, Source, error) {
	if inst, ok := r.cache.Get(service); ok {
		return inst, SourceCache, nil
	}

	if r.discovery != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		inst, err := r.discovery.Lookup(lookupCtx, service)
		cancel()
		if err == nil {
			r.cache.Add(service, inst)
			r.mu.Lock()
			r.stale[service] = inst
			r.mu.Unlock()
			return inst, SourceDiscovery, nil
		}
		r.logger.WarnCtx(ctx, "service lookup failed, using fallback",
			zap.String("service", service),
			zap.Error(err))
	}

	r.mu.RLock()
	stale, hasStale := r.stale[service]
	static, hasStatic := r.static[service]
	r.mu.RUnlock()
	if hasStale {
		return stale, SourceStale, nil
	}
	if hasStatic {
		return static, SourceStatic, nil
	}
	return registry.ServiceInstance{}, "", fmt.Errorf("%w: %s", ErrNoInstance, service)
}

// Invalidate forgets the cached and last-known instance of service.
func (r *Resolver) Invalidate(service string) {
	r.cache.Remove(service)
	r.mu.Lock()
	delete(r.stale, service)
	r.mu.Unlock()
}

// Cached returns the live cache entry of service, if any.
func (r *Resolver) Cached(service string) (registry.ServiceInstance, bool) {
	return r.cache.Peek(service)
}

func (r *Resolver) OnRegistered(context.Context, registry.ServiceInstance) error {
	return nil
}

// OnUnregistered drops the entries of a service that point at the departed instance.
func (r *Resolver) OnUnregistered(ctx context.Context, inst registry.ServiceInstance) error {
	if cached, ok := r.cache.Peek(inst.ServiceName); ok && cached.InstanceID == inst.InstanceID {
		r.cache.Remove(inst.ServiceName)
	}
	r.mu.Lock()
	if stale, ok := r.stale[inst.ServiceName]; ok && stale.InstanceID == inst.InstanceID {
		delete(r.stale, inst.ServiceName)
	}
	r.mu.Unlock()
	r.logger.DebugCtx(ctx, "instance cache invalidated",
		zap.String("service", inst.ServiceName),
		zap.String("instance_id", inst.InstanceID))
	return nil
}

var _ registry.Listener = (*Resolver)(nil)
