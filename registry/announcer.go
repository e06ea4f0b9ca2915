package registry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// AnnouncerConfig describes the instance a backend announces for itself.
type AnnouncerConfig struct {
	ServiceName       string            `mapstructure:"service_name"`
	Host              string            `mapstructure:"host"`
	Port              int               `mapstructure:"port"`
	HealthCheckPath   string            `mapstructure:"health_check_path"`
	Metadata          map[string]string `mapstructure:"metadata"`
	HeartbeatInterval time.Duration     `mapstructure:"heartbeat_interval"`
}

func (c *AnnouncerConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
}

// Announcer publishes a backend's registration, periodic heartbeats and a
// final unregistration onto the bus.
type Announcer struct {
	config     AnnouncerConfig
	instanceID string
	publisher  event.Publisher
	logger     *logger.CtxZapLogger

	// Load, when set, is sampled on every heartbeat.
	load func() int

	mu        sync.Mutex
	scheduler gocron.Scheduler
	beats     atomic.Int64
}

// AnnouncerOption configures an Announcer.
type AnnouncerOption func(*Announcer)

// WithLoadReporter attaches the reported load to every heartbeat.
func WithLoadReporter(load func() int) AnnouncerOption {
	return func(a *Announcer) {
		a.load = load
	}
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(id string) AnnouncerOption {
	return func(a *Announcer) {
		a.instanceID = id
	}
}

func NewAnnouncer(cfg AnnouncerConfig, pub event.Publisher, log *logger.CtxZapLogger, opts ...AnnouncerOption) (*Announcer, error) {
	cfg.ApplyDefaults()
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("announcer: service name is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("announcer: invalid port %d", cfg.Port)
	}
	if log == nil {
		log = logger.GetLogger("registry")
	}
	a := &Announcer{
		config:     cfg,
		instanceID: NewInstanceID(cfg.ServiceName, time.Now()),
		publisher:  pub,
		logger:     log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewInstanceID returns serviceName-<epoch ms>-<0..999>.
func NewInstanceID(serviceName string, now time.Time) string {
	return serviceName + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.Itoa(rand.IntN(1000))
}

func (a *Announcer) InstanceID() string {
	return a.instanceID
}

// Start publishes the registration and schedules heartbeats.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scheduler != nil {
		return nil
	}

	reg := event.RegistrationEvent{
		InstanceID:     a.instanceID,
		ServiceName:    a.config.ServiceName,
		Host:           a.config.Host,
		Port:           a.config.Port,
		HealthCheckURL: "http://" + a.config.Host + ":" + strconv.Itoa(a.config.Port) + a.config.HealthCheckPath,
		Metadata:       a.config.Metadata,
		Timestamp:      event.Now(),
	}
	if a.load != nil {
		reg.Load = a.load()
	}
	if err := a.publisher.PublishJSON(ctx, event.TopicServiceRegistration, a.config.ServiceName, reg); err != nil {
		return fmt.Errorf("publish registration: %w", err)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create heartbeat scheduler: %w", err)
	}
	beatCtx := context.WithoutCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(a.config.HeartbeatInterval),
		gocron.NewTask(func() { a.Beat(beatCtx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("announcer-heartbeat"),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	s.Start()
	a.scheduler = s

	a.logger.InfoCtx(ctx, "service instance announced",
		zap.String("instance_id", a.instanceID),
		zap.String("service", a.config.ServiceName),
		zap.Duration("heartbeat_interval", a.config.HeartbeatInterval))
	return nil
}

// Beat publishes one heartbeat. Failures are logged; the next beat retries.
func (a *Announcer) Beat(ctx context.Context) {
	hb := event.HeartbeatEvent{
		InstanceID:  a.instanceID,
		ServiceName: a.config.ServiceName,
		Timestamp:   event.Now(),
	}
	if a.load != nil {
		load := a.load()
		hb.Load = &load
	}
	if err := a.publisher.PublishJSON(ctx, event.TopicServiceHeartbeat, a.config.ServiceName, hb); err != nil {
		a.logger.WarnCtx(ctx, "publish heartbeat failed",
			zap.String("instance_id", a.instanceID),
			zap.Error(err))
		return
	}
	a.beats.Add(1)
}

// Beats counts successfully published heartbeats.
func (a *Announcer) Beats() int64 {
	return a.beats.Load()
}

// Stop cancels heartbeats and publishes the unregistration.
func (a *Announcer) Stop(ctx context.Context) error {
	a.mu.Lock()
	s := a.scheduler
	a.scheduler = nil
	a.mu.Unlock()
	if s == nil {
		return nil
	}
	if err := s.Shutdown(); err != nil {
		a.logger.WarnCtx(ctx, "stop heartbeat scheduler failed", zap.Error(err))
	}

	err := a.publisher.PublishJSON(ctx, event.TopicServiceUnregistration, a.config.ServiceName, event.UnregistrationEvent{
		InstanceID:  a.instanceID,
		ServiceName: a.config.ServiceName,
		Reason:      "shutdown",
		Timestamp:   event.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish unregistration: %w", err)
	}
	a.logger.InfoCtx(ctx, "service instance withdrawn", zap.String("instance_id", a.instanceID))
	return nil
}
