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
	"go.uber.org/zap"
)

// Coordinator is the remote side of distributed limiting. It counts
// requests per service and client in a Store and answers each request on
// the results topic.
type Coordinator struct {
	config    Config
	store     Store
	publisher event.Publisher
	logger    *logger.CtxZapLogger

	mu        sync.Mutex
	scheduler gocron.Scheduler

	metrics atomic.Pointer[Metrics]
}

func NewCoordinator(cfg Config, store Store, pub event.Publisher, log *logger.CtxZapLogger) (*Coordinator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if pub == nil {
		pub = event.NopPublisher{}
	}
	if log == nil {
		log = logger.GetLogger("limiter")
	}
	return &Coordinator{config: cfg, store: store, publisher: pub, logger: log}, nil
}

// ClientKey is the window key of one client of one service.
func ClientKey(serviceName, clientID string) string {
	return serviceName + ":" + clientID
}

// Check counts req and returns the answer. Missing limit or window fall
// back to the configured defaults.
func (c *Coordinator) Check(ctx context.Context, req event.RateLimitRequest) (event.RateLimitResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = c.config.Limit
	}
	window := time.Duration(req.WindowMs) * time.Millisecond
	if window <= 0 {
		window = c.config.Window
	}

	key := ClientKey(req.ServiceName, req.ClientID)
	d, err := c.store.Take(ctx, key, limit, window)
	if err != nil {
		return event.RateLimitResult{}, fmt.Errorf("check %s: %w", key, err)
	}
	if m := c.metrics.Load(); m != nil {
		m.record("coordinator", d)
	}

	c.logger.DebugCtx(ctx, "rate limit check",
		zap.String("key", key),
		zap.Bool("allowed", d.Allowed),
		zap.Int("remaining", d.Remaining),
		zap.Int("limit", d.Limit))
	return resultOf(req, d), nil
}

func resultOf(req event.RateLimitRequest, d Decision) event.RateLimitResult {
	return event.RateLimitResult{
		RequestID:         req.RequestID,
		ClientID:          req.ClientID,
		ServiceName:       req.ServiceName,
		Endpoint:          req.Endpoint,
		Allowed:           d.Allowed,
		RemainingRequests: d.Remaining,
		Limit:             d.Limit,
		ResetTime:         d.ResetTime(),
		Timestamp:         event.Now(),
	}
}

// Bind consumes rate-limit-requests and publishes one result per request.
// A store failure answers allowed so the caller does not wait out its timeout.
func (c *Coordinator) Bind(sub event.Subscriber, group string) error {
	return sub.Subscribe(event.TopicRateLimitRequests, group, func(ctx context.Context, msg *event.Message) error {
		req, err := event.Decode[event.RateLimitRequest](msg.Value)
		if err != nil {
			c.logger.WarnCtx(ctx, "drop malformed rate limit request", zap.Error(err), zap.String("key", msg.Key))
			return nil
		}

		res, err := c.Check(ctx, req)
		if err != nil {
			c.logger.ErrorCtx(ctx, "rate limit store failed, allowing",
				zap.String("request_id", req.RequestID),
				zap.Error(err))
			limit := req.Limit
			if limit <= 0 {
				limit = c.config.Limit
			}
			res = resultOf(req, failOpen(limit))
		}
		if err := c.publisher.PublishJSON(ctx, event.TopicRateLimitResults, req.RequestID, res); err != nil {
			return fmt.Errorf("publish rate limit result %s: %w", req.RequestID, err)
		}
		return nil
	})
}

// Sweep evicts idle windows from the store.
func (c *Coordinator) Sweep(ctx context.Context) int {
	n, err := c.store.Sweep(ctx, c.config.IdleTTL)
	if err != nil {
		c.logger.WarnCtx(ctx, "rate limit sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		c.logger.InfoCtx(ctx, "cleaned up idle rate limit windows", zap.Int("removed", n))
	}
	return n
}

// Start schedules Sweep every SweepInterval.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweep scheduler: %w", err)
	}
	sweepCtx := context.WithoutCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(c.config.SweepInterval),
		gocron.NewTask(func() { c.Sweep(sweepCtx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("ratelimit-window-sweep"),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.Start()
	c.scheduler = s

	c.logger.InfoCtx(ctx, "rate limit coordinator started",
		zap.String("store", c.config.Store),
		zap.Duration("idle_ttl", c.config.IdleTTL),
		zap.Duration("sweep_interval", c.config.SweepInterval))
	return nil
}

// Stop cancels the sweep and closes the store.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	s := c.scheduler
	c.scheduler = nil
	c.mu.Unlock()

	var err error
	if s != nil {
		err = s.Shutdown()
	}
	if cerr := c.store.Close(); err == nil {
		err = cerr
	}
	return err
}
