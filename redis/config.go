package redis

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	ModeStandalone = "standalone"
	ModeCluster    = "cluster"
)

// Config describes the Redis deployment backing the rate limit coordinator.
type Config struct {
	// Mode is standalone (first address only) or cluster (all addresses).
	Mode  string   `mapstructure:"mode"`
	Addrs []string `mapstructure:"addrs"`
	// Addr is accepted for single-node setups and folded into Addrs.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	// DB applies to standalone mode only.
	DB int `mapstructure:"db"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	EnableMetrics bool `mapstructure:"enable_metrics"`
}

func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStandalone
	}
	if c.Addr != "" && len(c.Addrs) == 0 {
		c.Addrs = []string{c.Addr}
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In(ModeStandalone, ModeCluster)),
		validation.Field(&c.Addrs, validation.Required),
		validation.Field(&c.DB, validation.Min(0), validation.Max(15)),
		validation.Field(&c.PoolSize, validation.Min(0)),
		validation.Field(&c.MinIdleConns, validation.Min(0)),
	)
}
