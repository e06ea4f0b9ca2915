package application

import (
	"fmt"
	"time"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/config"
	"github.com/KOMKZ/yogan-mesh/gateway"
	"github.com/KOMKZ/yogan-mesh/health"
	"github.com/KOMKZ/yogan-mesh/kafka"
	"github.com/KOMKZ/yogan-mesh/limiter"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/middleware"
	"github.com/KOMKZ/yogan-mesh/redis"
	"github.com/KOMKZ/yogan-mesh/registry"
	"github.com/KOMKZ/yogan-mesh/telemetry"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Bus transports.
const (
	BusKafka  = "kafka"
	BusMemory = "memory"
)

// MeshConfig is the whole configuration file. Every role reads the same
// layout and ignores the sections it has no use for.
type MeshConfig struct {
	Server     ServerConfig         `mapstructure:"server"`
	Logger     logger.ManagerConfig `mapstructure:"logger"`
	Middleware MiddlewareConfig     `mapstructure:"middleware"`
	Health     health.Config        `mapstructure:"health"`
	Bus        BusConfig            `mapstructure:"bus"`
	Kafka      kafka.Config         `mapstructure:"kafka"`
	Redis      RedisConfig          `mapstructure:"redis"`
	Etcd       registry.EtcdConfig  `mapstructure:"etcd"`
	Telemetry  telemetry.Config     `mapstructure:"telemetry"`
	Registry   registry.Config      `mapstructure:"registry"`
	Announce   AnnounceConfig       `mapstructure:"announce"`
	Breaker    breaker.Config       `mapstructure:"breaker"`
	Limiter    limiter.Config       `mapstructure:"limiter"`
	Gateway    gateway.Config       `mapstructure:"gateway"`
	Dynamic    DynamicConfig        `mapstructure:"dynamic"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	// Port 0 picks the role's well-known port.
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MiddlewareConfig struct {
	CORS       middleware.CORSConfig `mapstructure:"cors"`
	TraceID    TraceIDConfig         `mapstructure:"trace_id"`
	RequestLog RequestLogConfig      `mapstructure:"request_log"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
}

type TraceIDConfig struct {
	Enable                 bool `mapstructure:"enable"`
	middleware.TraceConfig `mapstructure:",squash"`
}

type RequestLogConfig struct {
	Enable                      bool `mapstructure:"enable"`
	middleware.RequestLogConfig `mapstructure:",squash"`
}

type MetricsConfig struct {
	Enable bool `mapstructure:"enable"`
}

// BusConfig picks the transport under the event topics. The all role
// always runs on the in-memory bus.
type BusConfig struct {
	Type     string `mapstructure:"type"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig switches the coordinator's window store to redis.
type RedisConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	redis.Config `mapstructure:",squash"`
}

// AnnounceConfig makes a service role register itself with discovery.
// An empty service name picks the role's well-known name.
type AnnounceConfig struct {
	Enabled                  bool `mapstructure:"enabled"`
	registry.AnnouncerConfig `mapstructure:",squash"`
}

// DynamicConfig points at the runtime properties file. Empty disables it.
type DynamicConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

func DefaultMeshConfig() MeshConfig {
	cfg := MeshConfig{
		Logger:    logger.DefaultManagerConfig(),
		Health:    health.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Registry:  registry.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Limiter:   limiter.DefaultConfig(),
		Gateway:   gateway.DefaultConfig(),
		Middleware: MiddlewareConfig{
			CORS:       middleware.CORSConfig{Enable: true},
			TraceID:    TraceIDConfig{Enable: true, TraceConfig: middleware.DefaultTraceConfig()},
			RequestLog: RequestLogConfig{Enable: true, RequestLogConfig: middleware.RequestLogConfig{SkipPaths: []string{"/health"}}},
			Metrics:    MetricsConfig{Enable: true},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func (c *MeshConfig) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Bus.Type == "" {
		c.Bus.Type = BusKafka
	}
	if c.Bus.PoolSize <= 0 {
		c.Bus.PoolSize = 64
	}

	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}

	c.Logger.ApplyDefaults()
	c.Middleware.CORS.ApplyDefaults()
	c.Health.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Etcd.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
	c.Registry.ApplyDefaults()
	c.Announce.ApplyDefaults()
	c.Breaker.ApplyDefaults()
	c.Limiter.ApplyDefaults()
	c.Gateway.ApplyDefaults()
}

// Validate checks the sections every role depends on plus the transports
// that are switched on.
func (c *MeshConfig) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.Server.Mode, validation.In("debug", "release", "test")),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.Validate(c.Bus.Type, validation.In(BusKafka, BusMemory)); err != nil {
		return fmt.Errorf("bus.type: %w", err)
	}

	sections := []section{
		{"logger", &c.Logger},
		{"telemetry", &c.Telemetry},
		{"registry", &c.Registry},
		{"breaker", &c.Breaker},
		{"limiter", &c.Limiter},
		{"gateway", &c.Gateway},
		{"etcd", &c.Etcd},
	}
	if c.Bus.Type == BusKafka {
		sections = append(sections, section{"kafka", &c.Kafka})
	}
	if c.Redis.Enabled {
		sections = append(sections, section{"redis", &c.Redis.Config})
	}
	for _, s := range sections {
		if err := config.ValidateAll(s.v); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

type section struct {
	name string
	v    config.Validator
}
