package gateway

import (
	"fmt"
	"net"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Rate limit modes.
const (
	RateLimitLocal       = "local"
	RateLimitDistributed = "distributed"
)

// RouteConfig maps a path pattern onto a service. TargetPrefix replaces the
// literal part of the pattern on the way to the backend and defaults to "/".
type RouteConfig struct {
	Pattern      string `mapstructure:"pattern"`
	Service      string `mapstructure:"service"`
	TargetPrefix string `mapstructure:"target_prefix"`
}

func (rc RouteConfig) Validate() error {
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Pattern, validation.Required),
		validation.Field(&rc.Service, validation.Required),
	)
}

// Config drives the gateway middleware.
type Config struct {
	Routes []RouteConfig `mapstructure:"routes"`

	// StaticInstances is the last-resort address book, service -> host:port.
	StaticInstances map[string]string `mapstructure:"static_instances"`

	InstanceCacheSize int           `mapstructure:"instance_cache_size"`
	InstanceTTL       time.Duration `mapstructure:"instance_ttl"`
	DecisionTTL       time.Duration `mapstructure:"decision_ttl"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
	ProxyTimeout      time.Duration `mapstructure:"proxy_timeout"`

	ClientIDHeader string `mapstructure:"client_id_header"`
	RateLimitMode  string `mapstructure:"rate_limit_mode"`

	// BreakerURL and DiscoveryURL point at remote services. Empty means the
	// in-process registries are used.
	BreakerURL   string `mapstructure:"breaker_url"`
	DiscoveryURL string `mapstructure:"discovery_url"`
}

func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Pattern: "/api/users/.*", Service: "user-service"},
		{Pattern: "/api/notifications/.*", Service: "notification-service"},
		{Pattern: "/api/circuit-breaker/.*", Service: "circuit-breaker-service", TargetPrefix: "/circuit-breaker/"},
		{Pattern: "/api/rate-limit/.*", Service: "rate-limiter-service", TargetPrefix: "/rate-limit/"},
		{Pattern: "/api/discovery/.*", Service: "service-discovery", TargetPrefix: "/discovery/"},
	}
}

func DefaultStaticInstances() map[string]string {
	return map[string]string{
		"user-service":            "localhost:8080",
		"notification-service":    "localhost:8081",
		"circuit-breaker-service": "localhost:8082",
		"service-discovery":       "localhost:8084",
		"rate-limiter-service":    "localhost:8085",
	}
}

func DefaultConfig() Config {
	return Config{
		Routes:            DefaultRoutes(),
		StaticInstances:   DefaultStaticInstances(),
		InstanceCacheSize: 256,
		InstanceTTL:       30 * time.Second,
		DecisionTTL:       5 * time.Second,
		LookupTimeout:     2 * time.Second,
		ProxyTimeout:      30 * time.Second,
		ClientIDHeader:    "X-Client-ID",
		RateLimitMode:     RateLimitLocal,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if len(c.Routes) == 0 {
		c.Routes = d.Routes
	}
	if c.StaticInstances == nil {
		c.StaticInstances = d.StaticInstances
	}
	if c.InstanceCacheSize <= 0 {
		c.InstanceCacheSize = d.InstanceCacheSize
	}
	if c.InstanceTTL <= 0 {
		c.InstanceTTL = d.InstanceTTL
	}
	if c.DecisionTTL <= 0 {
		c.DecisionTTL = d.DecisionTTL
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = d.ProxyTimeout
	}
	if c.ClientIDHeader == "" {
		c.ClientIDHeader = d.ClientIDHeader
	}
	if c.RateLimitMode == "" {
		c.RateLimitMode = d.RateLimitMode
	}
}

func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Routes, validation.Required),
		validation.Field(&c.InstanceTTL, validation.Min(time.Millisecond)),
		validation.Field(&c.DecisionTTL, validation.Min(time.Millisecond)),
		validation.Field(&c.RateLimitMode, validation.In(RateLimitLocal, RateLimitDistributed)),
	); err != nil {
		return err
	}
	for service, addr := range c.StaticInstances {
		if _, _, err := splitAddr(addr); err != nil {
			return fmt.Errorf("static instance %s: %w", service, err)
		}
	}
	return nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
