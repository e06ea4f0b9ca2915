package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type pending struct {
	done     chan struct{}
	result   Decision
	resolved bool
}

// DistributedLimiter is the caller side of distributed limiting. Each
// Allow publishes a request, parks on a pending entry keyed by a fresh
// request id, and takes the first of the matching result, its timeout or
// ctx cancellation. Anything but a result resolves to allowed.
type DistributedLimiter struct {
	config    Config
	publisher event.Publisher
	logger    *logger.CtxZapLogger
	newID     func() string

	mu      sync.Mutex
	pending map[string]*pending

	schedMu   sync.Mutex
	scheduler gocron.Scheduler

	metrics atomic.Pointer[Metrics]
}

// DistributedOption configures a DistributedLimiter.
type DistributedOption func(*DistributedLimiter)

// WithRequestID replaces uuid generation.
func WithRequestID(newID func() string) DistributedOption {
	return func(d *DistributedLimiter) {
		d.newID = newID
	}
}

func NewDistributedLimiter(cfg Config, pub event.Publisher, log *logger.CtxZapLogger, opts ...DistributedOption) (*DistributedLimiter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if log == nil {
		log = logger.GetLogger("limiter")
	}
	d := &DistributedLimiter{
		config:    cfg,
		publisher: pub,
		logger:    log,
		newID:     uuid.NewString,
		pending:   make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Allow counts one request of clientID against serviceName at the coordinator.
func (d *DistributedLimiter) Allow(ctx context.Context, clientID, serviceName, endpoint string) Decision {
	id := d.newID()
	p := &pending{done: make(chan struct{})}
	d.mu.Lock()
	d.pending[id] = p
	d.mu.Unlock()

	req := event.RateLimitRequest{
		RequestID:   id,
		ClientID:    clientID,
		ServiceName: serviceName,
		Endpoint:    endpoint,
		Limit:       d.config.Limit,
		WindowMs:    d.config.Window.Milliseconds(),
		Timestamp:   event.Now(),
	}
	if err := d.publisher.PublishJSON(ctx, event.TopicRateLimitRequests, id, req); err != nil {
		d.logger.WarnCtx(ctx, "publish rate limit request failed, allowing",
			zap.String("request_id", id),
			zap.String("client_id", clientID),
			zap.Error(err))
		return d.expire(id, p)
	}

	timer := time.NewTimer(d.config.ResultTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		d.record(p.result)
		return p.result
	case <-timer.C:
		d.logger.WarnCtx(ctx, "rate limit timeout, allowing",
			zap.String("request_id", id),
			zap.String("client_id", clientID),
			zap.Duration("timeout", d.config.ResultTimeout))
		return d.expire(id, p)
	case <-ctx.Done():
		return d.expire(id, p)
	}
}

// expire resolves p to the fail-open decision unless a result won the
// race, and drops it from the pending table.
func (d *DistributedLimiter) expire(id string, p *pending) Decision {
	d.mu.Lock()
	if !p.resolved {
		p.result = failOpen(d.config.Limit)
		p.resolved = true
		close(p.done)
	}
	if cur, ok := d.pending[id]; ok && cur == p {
		delete(d.pending, id)
	}
	res := p.result
	d.mu.Unlock()

	d.record(res)
	return res
}

// Resolve completes the pending request res answers. Unknown or already
// resolved ids are ignored and reported false.
func (d *DistributedLimiter) Resolve(res event.RateLimitResult) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[res.RequestID]
	if !ok || p.resolved {
		return false
	}
	p.result = Decision{
		Allowed:   res.Allowed,
		Remaining: res.RemainingRequests,
		Limit:     res.Limit,
	}
	if res.ResetTime > 0 {
		p.result.ResetAt = time.UnixMilli(res.ResetTime)
	}
	p.resolved = true
	close(p.done)
	delete(d.pending, res.RequestID)
	return true
}

// Bind consumes rate-limit-results. Every gateway replica must use its own
// group so each sees the answers to its own requests.
func (d *DistributedLimiter) Bind(sub event.Subscriber, group string) error {
	return sub.Subscribe(event.TopicRateLimitResults, group, func(ctx context.Context, msg *event.Message) error {
		res, err := event.Decode[event.RateLimitResult](msg.Value)
		if err != nil {
			d.logger.WarnCtx(ctx, "drop malformed rate limit result", zap.Error(err), zap.String("key", msg.Key))
			return nil
		}
		if !d.Resolve(res) {
			d.logger.DebugCtx(ctx, "rate limit result for unknown request", zap.String("request_id", res.RequestID))
		}
		return nil
	})
}

// Sweep removes resolved entries. Unresolved entries belong to their own
// timeout and are never touched here.
func (d *DistributedLimiter) Sweep() int {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	removed := 0
	for _, id := range ids {
		d.mu.Lock()
		if p, ok := d.pending[id]; ok && p.resolved {
			delete(d.pending, id)
			removed++
		}
		d.mu.Unlock()
	}
	return removed
}

// Pending is the number of entries in the pending table.
func (d *DistributedLimiter) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Start schedules Sweep every PendingSweepInterval.
func (d *DistributedLimiter) Start(ctx context.Context) error {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()
	if d.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create pending sweep scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(d.config.PendingSweepInterval),
		gocron.NewTask(func() { d.Sweep() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("ratelimit-pending-sweep"),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule pending sweep: %w", err)
	}
	s.Start()
	d.scheduler = s

	d.logger.InfoCtx(ctx, "distributed rate limiter started",
		zap.Duration("result_timeout", d.config.ResultTimeout),
		zap.Int("limit", d.config.Limit),
		zap.Duration("window", d.config.Window))
	return nil
}

func (d *DistributedLimiter) Stop() error {
	d.schedMu.Lock()
	s := d.scheduler
	d.scheduler = nil
	d.schedMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

func (d *DistributedLimiter) record(dec Decision) {
	if m := d.metrics.Load(); m != nil {
		m.record("distributed", dec)
	}
}
