package limiter

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config covers the local limiter, the coordinator and the distributed caller.
type Config struct {
	// Limit and Window are the defaults for requests that carry none.
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`

	// Store selects where coordinator windows live: memory or redis.
	Store     string `mapstructure:"store"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// IdleTTL evicts windows untouched for that long; SweepInterval is the
	// period of that eviction.
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// ResultTimeout bounds the wait for a coordinator answer before the
	// caller fails open.
	ResultTimeout        time.Duration `mapstructure:"result_timeout"`
	PendingSweepInterval time.Duration `mapstructure:"pending_sweep_interval"`
}

func DefaultConfig() Config {
	return Config{
		Limit:                100,
		Window:               time.Minute,
		Store:                StoreMemory,
		KeyPrefix:            "ratelimit:",
		IdleTTL:              time.Hour,
		SweepInterval:        5 * time.Minute,
		ResultTimeout:        5 * time.Second,
		PendingSweepInterval: 30 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Limit == 0 {
		c.Limit = d.Limit
	}
	if c.Window == 0 {
		c.Window = d.Window
	}
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.IdleTTL == 0 {
		c.IdleTTL = d.IdleTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ResultTimeout == 0 {
		c.ResultTimeout = d.ResultTimeout
	}
	if c.PendingSweepInterval == 0 {
		c.PendingSweepInterval = d.PendingSweepInterval
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Limit, validation.Required, validation.Min(1)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Store, validation.In(StoreMemory, StoreRedis)),
		validation.Field(&c.IdleTTL, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Min(10*time.Millisecond)),
		validation.Field(&c.ResultTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.PendingSweepInterval, validation.Min(10*time.Millisecond)),
	)
}
