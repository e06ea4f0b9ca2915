package gateway

import (
	"context"
	"time"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/limiter"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BreakerGuard caches breaker decisions per service and records proxy
// outcomes into the gateway's own breakers.
type BreakerGuard struct {
	checker   breaker.Checker
	local     *breaker.Registry
	decisions *expirable.LRU[string, breaker.Decision]
}

// NewBreakerGuard asks checker on a cache miss. A nil checker means local
// decides. The guard drops a cached decision as soon as the local breaker
// of that service opens.
func NewBreakerGuard(checker breaker.Checker, local *breaker.Registry, ttl time.Duration, size int) *BreakerGuard {
	if checker == nil {
		checker = local
	}
	g := &BreakerGuard{
		checker:   checker,
		local:     local,
		decisions: expirable.NewLRU[string, breaker.Decision](size, nil, ttl),
	}
	local.AddStateListener(g)
	return g
}

// Check returns the decision for service and whether it came from the cache.
func (g *BreakerGuard) Check(ctx context.Context, service string) (breaker.Decision, bool) {
	if d, ok := g.decisions.Get(service); ok {
		return d, true
	}
	d := g.checker.Check(ctx, service)
	g.decisions.Add(service, d)
	return d, false
}

func (g *BreakerGuard) RecordSuccess(service string) {
	g.local.Get(service).RecordSuccess()
}

func (g *BreakerGuard) RecordFailure(service string) {
	g.local.Get(service).RecordFailure()
}

func (g *BreakerGuard) Invalidate(service string) {
	g.decisions.Remove(service)
}

// OnStateChange implements breaker.StateListener.
func (g *BreakerGuard) OnStateChange(name string, _, to breaker.State) {
	if to == breaker.StateOpen {
		g.Invalidate(name)
	}
}

// RateChecker decides whether one client may call one service now.
type RateChecker interface {
	Check(ctx context.Context, clientID, service, path string) limiter.Decision
}

// LocalRateChecker counts in an in-process fixed window keyed by service and client.
type LocalRateChecker struct {
	window *limiter.FixedWindow
}

func NewLocalRateChecker(window *limiter.FixedWindow) *LocalRateChecker {
	return &LocalRateChecker{window: window}
}

func (c *LocalRateChecker) Check(_ context.Context, clientID, service, _ string) limiter.Decision {
	return c.window.Check(limiter.ClientKey(service, clientID))
}

// DistributedRateChecker asks the rate limit coordinator over the bus.
type DistributedRateChecker struct {
	limiter *limiter.DistributedLimiter
}

func NewDistributedRateChecker(l *limiter.DistributedLimiter) *DistributedRateChecker {
	return &DistributedRateChecker{limiter: l}
}

func (c *DistributedRateChecker) Check(ctx context.Context, clientID, service, path string) limiter.Decision {
	return c.limiter.Allow(ctx, clientID, service, path)
}

var (
	_ breaker.StateListener = (*BreakerGuard)(nil)
	_ RateChecker           = (*LocalRateChecker)(nil)
	_ RateChecker           = (*DistributedRateChecker)(nil)
)
