package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Manager owns one CtxZapLogger per module and the file writers behind them.
type Manager struct {
	config     ManagerConfig
	loggers    map[string]*CtxZapLogger
	zapLoggers map[string]*zap.Logger
	writers    map[string][]*lumberjack.Logger
	mu         sync.RWMutex
}

var (
	globalManager *Manager
	managerMu     sync.RWMutex
)

// NewManager creates a standalone manager. Zero-valued fields get defaults.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		config:     cfg,
		loggers:    make(map[string]*CtxZapLogger),
		zapLoggers: make(map[string]*zap.Logger),
		writers:    make(map[string][]*lumberjack.Logger),
	}
}

// InitManager installs the process-wide manager used by the package helpers.
// A previously installed manager is closed.
func InitManager(cfg ManagerConfig) *Manager {
	m := NewManager(cfg)
	managerMu.Lock()
	old := globalManager
	globalManager = m
	managerMu.Unlock()
	if old != nil {
		old.CloseAll()
	}
	return m
}

func global() *Manager {
	managerMu.RLock()
	m := globalManager
	managerMu.RUnlock()
	if m != nil {
		return m
	}

	managerMu.Lock()
	defer managerMu.Unlock()
	if globalManager == nil {
		globalManager = NewManager(DefaultManagerConfig())
	}
	return globalManager
}

// GetLogger returns the logger bound to module, creating it on first use.
// Every entry it writes carries a module field.
func (m *Manager) GetLogger(module string) *CtxZapLogger {
	m.mu.RLock()
	if l, ok := m.loggers[module]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loggers[module]; ok {
		return l
	}

	base := m.createLogger(module).With(zap.String("module", module))
	l := &CtxZapLogger{
		base:   base.WithOptions(zap.AddCallerSkip(1)),
		module: module,
		config: &m.config,
	}
	m.loggers[module] = l
	m.zapLoggers[module] = base
	return l
}

// Config returns a copy of the manager configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

func (m *Manager) createLogger(module string) *zap.Logger {
	cfg := m.config
	level := ParseLevel(cfg.Level)
	encoder := newEncoder(cfg.Encoding)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		consoleEncoder := encoder
		if cfg.ConsoleEncoding != "" && cfg.ConsoleEncoding != cfg.Encoding {
			consoleEncoder = newEncoder(cfg.ConsoleEncoding)
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}

	if cfg.EnableFile {
		infoWriter := m.fileWriter(module, cfg.filePath(module, "info"))
		cores = append(cores, zapcore.NewCore(encoder, infoWriter, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= level && l < zapcore.ErrorLevel
		})))

		errorWriter := m.fileWriter(module, cfg.filePath(module, "error"))
		cores = append(cores, zapcore.NewCore(encoder, errorWriter, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel
		})))
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	// stack capture is bounded by CtxZapLogger.ErrorCtx instead of zap.AddStacktrace
	return zap.New(zapcore.NewTee(cores...), opts...)
}

// fileWriter must be called with m.mu held.
func (m *Manager) fileWriter(module, path string) zapcore.WriteSyncer {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    m.config.MaxSize,
		MaxBackups: m.config.MaxBackups,
		MaxAge:     m.config.MaxAge,
		Compress:   m.config.Compress,
		LocalTime:  true,
	}
	m.writers[module] = append(m.writers[module], lj)
	return zapcore.AddSync(lj)
}

// CloseAll flushes every logger and closes the file handles.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.zapLoggers {
		_ = l.Sync()
	}
	for _, ws := range m.writers {
		for _, w := range ws {
			_ = w.Close()
		}
	}
	m.loggers = make(map[string]*CtxZapLogger)
	m.zapLoggers = make(map[string]*zap.Logger)
	m.writers = make(map[string][]*lumberjack.Logger)
}

// ReloadConfig validates cfg and rebuilds all module loggers lazily.
func (m *Manager) ReloadConfig(cfg ManagerConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid logger config: %w", err)
	}

	oldLevel := m.config.Level
	m.CloseAll()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	if oldLevel != cfg.Level {
		m.GetLogger("logger").Info("log level changed",
			zap.String("old_level", oldLevel),
			zap.String("new_level", cfg.Level))
	}
	return nil
}

func newEncoder(encoding string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// GetLogger returns the module logger from the global manager.
func GetLogger(module string) *CtxZapLogger {
	return global().GetLogger(module)
}

// CloseAll flushes the global manager.
func CloseAll() {
	managerMu.RLock()
	m := globalManager
	managerMu.RUnlock()
	if m != nil {
		m.CloseAll()
	}
}

// Info logs through the global manager.
// Usage: logger.Info("registry", "instance registered", zap.String("id", id))
func Info(module, msg string, fields ...zap.Field) {
	GetLogger(module).Info(msg, fields...)
}

func Debug(module, msg string, fields ...zap.Field) {
	GetLogger(module).Debug(msg, fields...)
}

func Warn(module, msg string, fields ...zap.Field) {
	GetLogger(module).Warn(msg, fields...)
}

func Error(module, msg string, fields ...zap.Field) {
	GetLogger(module).Error(msg, fields...)
}

// InfoCtx logs with the trace id carried by ctx.
func InfoCtx(ctx context.Context, module, msg string, fields ...zap.Field) {
	GetLogger(module).InfoCtx(ctx, msg, fields...)
}

func WarnCtx(ctx context.Context, module, msg string, fields ...zap.Field) {
	GetLogger(module).WarnCtx(ctx, msg, fields...)
}

func ErrorCtx(ctx context.Context, module, msg string, fields ...zap.Field) {
	GetLogger(module).ErrorCtx(ctx, msg, fields...)
}
