package telemetry

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/KOMKZ/yogan-mesh/breaker"
)

const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNoop   = "noop"
)

type Config struct {
	Enabled        bool           `mapstructure:"enabled"`
	ServiceName    string         `mapstructure:"service_name"`
	ServiceVersion string         `mapstructure:"service_version"`
	Exporter       ExporterConfig `mapstructure:"exporter"`
	Sampler        SamplerConfig  `mapstructure:"sampler"`
	Batch          BatchConfig    `mapstructure:"batch"`
	// ResourceAttrs may nest; values go through os.ExpandEnv.
	ResourceAttrs map[string]any `mapstructure:"resource_attributes"`
	// ExportGuard trips to the fallback exporter while the collector is down.
	ExportGuard ExportGuardConfig `mapstructure:"export_guard"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ExporterConfig struct {
	Type     string            `mapstructure:"type"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

type SamplerConfig struct {
	// Type is always_on, always_off, trace_id_ratio or parent_based_always_on.
	Type  string  `mapstructure:"type"`
	Ratio float64 `mapstructure:"ratio"`
}

type BatchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	ScheduleDelay      time.Duration `mapstructure:"schedule_delay"`
	ExportTimeout      time.Duration `mapstructure:"export_timeout"`
}

type ExportGuardConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	Fallback         string        `mapstructure:"fallback"`
}

func (c ExportGuardConfig) breakerConfig() breaker.ResourceConfig {
	return breaker.ResourceConfig{
		FailureThreshold: c.FailureThreshold,
		OpenTimeout:      c.OpenTimeout,
	}
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
	ExportTimeout  time.Duration `mapstructure:"export_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "yogan-mesh",
		ServiceVersion: "1.0.0",
		Exporter: ExporterConfig{
			Type:     ExporterOTLP,
			Endpoint: "localhost:4317",
			Insecure: true,
			Timeout:  10 * time.Second,
		},
		Sampler: SamplerConfig{Type: "parent_based_always_on", Ratio: 1.0},
		Batch: BatchConfig{
			Enabled:            true,
			MaxQueueSize:       2048,
			MaxExportBatchSize: 512,
			ScheduleDelay:      5 * time.Second,
			ExportTimeout:      30 * time.Second,
		},
		ExportGuard: ExportGuardConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      60 * time.Second,
			Fallback:         ExporterNoop,
		},
		Metrics: MetricsConfig{
			ExportInterval: 10 * time.Second,
			ExportTimeout:  5 * time.Second,
		},
	}
}

// ApplyDefaults fills zero fields; booleans are left to the file.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = d.ServiceVersion
	}
	if c.Exporter.Type == "" {
		c.Exporter.Type = d.Exporter.Type
	}
	if c.Exporter.Endpoint == "" {
		c.Exporter.Endpoint = d.Exporter.Endpoint
	}
	if c.Exporter.Timeout == 0 {
		c.Exporter.Timeout = d.Exporter.Timeout
	}
	if c.Sampler.Type == "" {
		c.Sampler = d.Sampler
	}
	if c.Batch.MaxQueueSize == 0 {
		c.Batch.MaxQueueSize = d.Batch.MaxQueueSize
	}
	if c.Batch.MaxExportBatchSize == 0 {
		c.Batch.MaxExportBatchSize = d.Batch.MaxExportBatchSize
	}
	if c.Batch.ScheduleDelay == 0 {
		c.Batch.ScheduleDelay = d.Batch.ScheduleDelay
	}
	if c.Batch.ExportTimeout == 0 {
		c.Batch.ExportTimeout = d.Batch.ExportTimeout
	}
	if c.ExportGuard.FailureThreshold == 0 {
		c.ExportGuard.FailureThreshold = d.ExportGuard.FailureThreshold
	}
	if c.ExportGuard.OpenTimeout == 0 {
		c.ExportGuard.OpenTimeout = d.ExportGuard.OpenTimeout
	}
	if c.ExportGuard.Fallback == "" {
		c.ExportGuard.Fallback = d.ExportGuard.Fallback
	}
	if c.Metrics.ExportInterval == 0 {
		c.Metrics.ExportInterval = d.Metrics.ExportInterval
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = d.Metrics.ExportTimeout
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Exporter, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Exporter,
				validation.Field(&c.Exporter.Type, validation.Required,
					validation.In(ExporterOTLP, ExporterStdout, ExporterNoop)),
			)
		})),
		validation.Field(&c.Sampler, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Sampler,
				validation.Field(&c.Sampler.Ratio, validation.Min(0.0), validation.Max(1.0)),
			)
		})),
		validation.Field(&c.ExportGuard, validation.By(func(any) error {
			return validation.ValidateStruct(&c.ExportGuard,
				validation.Field(&c.ExportGuard.Fallback, validation.In(ExporterStdout, ExporterNoop)),
			)
		})),
	)
}
