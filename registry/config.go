package registry

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config controls liveness and the background sweep.
type Config struct {
	// LivenessTTL is the longest silence after which an instance is dead.
	LivenessTTL time.Duration `mapstructure:"liveness_ttl"`

	// SweepInterval is the period of the eviction pass.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func DefaultConfig() Config {
	return Config{
		LivenessTTL:   30 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.LivenessTTL == 0 {
		c.LivenessTTL = d.LivenessTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.LivenessTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(10*time.Millisecond)),
	)
}
