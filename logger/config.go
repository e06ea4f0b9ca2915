package logger

import (
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap/zapcore"
)

var (
	validLevels    = []interface{}{"debug", "info", "warn", "error", "fatal"}
	validEncodings = []interface{}{"json", "console"}
)

// ManagerConfig is shared by every module logger created by a Manager.
type ManagerConfig struct {
	BaseLogDir           string `mapstructure:"base_log_dir"`
	Level                string `mapstructure:"level"`
	AppName              string `mapstructure:"app_name"` // injected into every entry, even when empty
	Encoding             string `mapstructure:"encoding"`
	ConsoleEncoding      string `mapstructure:"console_encoding"`
	EnableConsole        bool   `mapstructure:"enable_console"`
	EnableFile           bool   `mapstructure:"enable_file"`
	EnableDateInFilename bool   `mapstructure:"enable_date_in_filename"`
	DateFormat           string `mapstructure:"date_format"`
	MaxSize              int    `mapstructure:"max_size"` // MB
	MaxBackups           int    `mapstructure:"max_backups"`
	MaxAge               int    `mapstructure:"max_age"` // days
	Compress             bool   `mapstructure:"compress"`
	EnableCaller         bool   `mapstructure:"enable_caller"`
	EnableStacktrace     bool   `mapstructure:"enable_stacktrace"`
	StacktraceLevel      string `mapstructure:"stacktrace_level"`
	StacktraceDepth      int    `mapstructure:"stacktrace_depth"` // 0 = unlimited

	EnableTraceID    bool   `mapstructure:"enable_trace_id"`
	TraceIDKey       string `mapstructure:"trace_id_key"`
	TraceIDFieldName string `mapstructure:"trace_id_field_name"`
}

// DefaultManagerConfig returns the configuration used when none is loaded.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseLogDir:           "logs",
		Level:                "info",
		Encoding:             "json",
		EnableConsole:        true,
		EnableFile:           true,
		EnableDateInFilename: true,
		DateFormat:           "2006-01-02",
		MaxSize:              100,
		MaxBackups:           3,
		MaxAge:               28,
		Compress:             true,
		EnableCaller:         true,
		EnableStacktrace:     true,
		StacktraceLevel:      "error",
		StacktraceDepth:      5,
		EnableTraceID:        true,
		TraceIDKey:           "trace_id",
		TraceIDFieldName:     "trace_id",
	}
}

// ApplyDefaults fills zero-valued fields in place.
// Booleans are left alone: a false in the file cannot be told apart from a missing key.
func (c *ManagerConfig) ApplyDefaults() {
	d := DefaultManagerConfig()
	if c.BaseLogDir == "" {
		c.BaseLogDir = d.BaseLogDir
	}
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if c.DateFormat == "" {
		c.DateFormat = d.DateFormat
	}
	if c.StacktraceLevel == "" {
		c.StacktraceLevel = d.StacktraceLevel
	}
	if c.TraceIDKey == "" {
		c.TraceIDKey = d.TraceIDKey
	}
	if c.TraceIDFieldName == "" {
		c.TraceIDFieldName = d.TraceIDFieldName
	}
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = d.MaxBackups
	}
	if c.MaxAge == 0 {
		c.MaxAge = d.MaxAge
	}
}

// Validate checks enum and range fields.
func (c ManagerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.In(validLevels...)),
		validation.Field(&c.Encoding, validation.Required, validation.In(validEncodings...)),
		validation.Field(&c.ConsoleEncoding, validation.In(validEncodings...)),
		validation.Field(&c.StacktraceLevel, validation.In(validLevels...)),
		validation.Field(&c.MaxSize, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.MaxBackups, validation.Min(0), validation.Max(1000)),
		validation.Field(&c.MaxAge, validation.Min(0), validation.Max(3650)),
		validation.Field(&c.DateFormat, validation.When(c.EnableDateInFilename, validation.Required)),
	)
}

// ParseLevel maps a level name to a zap level, falling back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// filePath builds logs/<module>/<module>-<level>[-<date>].log
func (c ManagerConfig) filePath(module, level string) string {
	parts := []string{module, level}
	if c.EnableDateInFilename {
		parts = append(parts, time.Now().Format(c.DateFormat))
	}
	return filepath.Join(c.BaseLogDir, module, strings.Join(parts, "-")+".log")
}
