package kafka

import (
	"fmt"
	"time"
)

// Config is the kafka section of the mesh configuration.
type Config struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	Version  string         `mapstructure:"version"`
	ClientID string         `mapstructure:"client_id"`
	Producer ProducerConfig `mapstructure:"producer"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	SASL     *SASLConfig    `mapstructure:"sasl"`
	TLS      *TLSConfig     `mapstructure:"tls"`

	// ConnectAttempts bounds the startup connect loop (0 = 5).
	ConnectAttempts int `mapstructure:"connect_attempts"`
}

type ProducerConfig struct {
	// RequiredAcks: 0=NoResponse, 1=WaitForLocal, -1=WaitForAll
	RequiredAcks    int           `mapstructure:"required_acks"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryMax        int           `mapstructure:"retry_max"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	// Compression: none, gzip, snappy, lz4, zstd
	Compression string `mapstructure:"compression"`
	Idempotent  bool   `mapstructure:"idempotent"`
}

type ConsumerConfig struct {
	// GroupPrefix is prepended to every subscription group, e.g. "mesh-" + "coordinator".
	GroupPrefix string `mapstructure:"group_prefix"`
	// OffsetInitial: -1=Newest, -2=Oldest
	OffsetInitial      int64         `mapstructure:"offset_initial"`
	AutoCommit         bool          `mapstructure:"auto_commit"`
	AutoCommitInterval time.Duration `mapstructure:"auto_commit_interval"`
	SessionTimeout     time.Duration `mapstructure:"session_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	MaxProcessingTime  time.Duration `mapstructure:"max_processing_time"`
	// RebalanceStrategy: range, roundrobin, sticky
	RebalanceStrategy string `mapstructure:"rebalance_strategy"`
}

type SASLConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mechanism: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type TLSConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// Validate checks the fields sarama cannot default.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for _, b := range c.Brokers {
		if b == "" {
			return fmt.Errorf("broker address cannot be empty")
		}
	}

	if c.Producer.RequiredAcks < -1 || c.Producer.RequiredAcks > 1 {
		return fmt.Errorf("required_acks must be -1, 0, or 1, got: %d", c.Producer.RequiredAcks)
	}
	switch c.Producer.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("invalid compression: %s", c.Producer.Compression)
	}
	switch c.Consumer.RebalanceStrategy {
	case "", "range", "roundrobin", "sticky":
	default:
		return fmt.Errorf("invalid rebalance_strategy: %s", c.Consumer.RebalanceStrategy)
	}

	if c.SASL != nil && c.SASL.Enabled {
		if c.SASL.Username == "" || c.SASL.Password == "" {
			return fmt.Errorf("sasl username and password are required")
		}
		switch c.SASL.Mechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("invalid sasl mechanism: %s", c.SASL.Mechanism)
		}
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "3.8.0"
	}
	if c.ClientID == "" {
		c.ClientID = "yogan-mesh"
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}

	p := &c.Producer
	if p.RequiredAcks == 0 && !p.Idempotent {
		p.RequiredAcks = 1
	}
	if p.Timeout == 0 {
		p.Timeout = 10 * time.Second
	}
	if p.RetryMax == 0 {
		p.RetryMax = 3
	}
	if p.RetryBackoff == 0 {
		p.RetryBackoff = 100 * time.Millisecond
	}
	if p.MaxMessageBytes == 0 {
		p.MaxMessageBytes = 1 << 20
	}
	if p.Compression == "" {
		p.Compression = "none"
	}

	cc := &c.Consumer
	if cc.GroupPrefix == "" {
		cc.GroupPrefix = "mesh-"
	}
	if cc.OffsetInitial == 0 {
		cc.OffsetInitial = -1
	}
	if cc.AutoCommitInterval == 0 {
		cc.AutoCommitInterval = time.Second
	}
	if cc.SessionTimeout == 0 {
		cc.SessionTimeout = 10 * time.Second
	}
	if cc.HeartbeatInterval == 0 {
		cc.HeartbeatInterval = 3 * time.Second
	}
	if cc.MaxProcessingTime == 0 {
		cc.MaxProcessingTime = 100 * time.Millisecond
	}
	if cc.RebalanceStrategy == "" {
		cc.RebalanceStrategy = "range"
	}
}
