package breaker

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the default breaker settings and per-name overrides.
type Config struct {
	Default  ResourceConfig            `mapstructure:"default"`
	Breakers map[string]ResourceConfig `mapstructure:"breakers"`
}

// ResourceConfig is fixed for a breaker at creation.
type ResourceConfig struct {
	// FailureThreshold opens a closed breaker and closes a half-open one.
	FailureThreshold int `mapstructure:"failure_threshold"`

	// OpenTimeout is how long an open breaker rejects before probing.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Default:  DefaultResourceConfig(),
		Breakers: make(map[string]ResourceConfig),
	}
}

func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// ApplyDefaults fills zero fields of Default with the built-in values.
func (c *Config) ApplyDefaults() {
	c.Default = DefaultResourceConfig().Merge(c.Default)
	if c.Breakers == nil {
		c.Breakers = make(map[string]ResourceConfig)
	}
}

func (c Config) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for name, rc := range c.Breakers {
		if err := c.Default.Merge(rc).Validate(); err != nil {
			return fmt.Errorf("breaker %s: %w", name, err)
		}
	}
	return nil
}

// For returns the settings of name: Default overlaid with its override.
func (c Config) For(name string) ResourceConfig {
	if rc, ok := c.Breakers[name]; ok {
		return c.Default.Merge(rc)
	}
	return c.Default
}

// Merge overlays the non-zero fields of override.
func (rc ResourceConfig) Merge(override ResourceConfig) ResourceConfig {
	result := rc
	if override.FailureThreshold != 0 {
		result.FailureThreshold = override.FailureThreshold
	}
	if override.OpenTimeout != 0 {
		result.OpenTimeout = override.OpenTimeout
	}
	return result
}

func (rc ResourceConfig) Validate() error {
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&rc.OpenTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}
