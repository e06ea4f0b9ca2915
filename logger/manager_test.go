package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFileManager(t *testing.T) (*Manager, string) {
	dir := t.TempDir()
	m := NewManager(ManagerConfig{
		BaseLogDir:       dir,
		Level:            "info",
		EnableFile:       true,
		EnableTraceID:    true,
		EnableStacktrace: true,
		StacktraceDepth:  3,
	})
	return m, dir
}

func TestManager_SplitsInfoAndErrorFiles(t *testing.T) {
	m, dir := newFileManager(t)

	m.GetLogger("gateway").Info("request proxied", zap.String("service", "user-service"))
	m.GetLogger("gateway").Error("proxy failed", zap.String("service", "user-service"))
	m.GetLogger("gateway").Debug("filtered out")
	m.CloseAll()

	info, err := os.ReadFile(filepath.Join(dir, "gateway", "gateway-info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "request proxied")
	assert.Contains(t, string(info), `"module":"gateway"`)
	assert.NotContains(t, string(info), "proxy failed")
	assert.NotContains(t, string(info), "filtered out")

	errLog, err := os.ReadFile(filepath.Join(dir, "gateway", "gateway-error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "proxy failed")
	assert.Contains(t, string(errLog), `"stack"`)
}

func TestManager_GetLoggerIsCached(t *testing.T) {
	m, _ := newFileManager(t)
	defer m.CloseAll()

	var wg sync.WaitGroup
	got := make([]*CtxZapLogger, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.GetLogger("registry")
		}(i)
	}
	wg.Wait()

	for _, l := range got {
		assert.Same(t, got[0], l)
	}
}

func TestManager_ReloadConfig(t *testing.T) {
	m, _ := newFileManager(t)
	defer m.CloseAll()

	before := m.GetLogger("breaker")
	require.NoError(t, m.ReloadConfig(ManagerConfig{BaseLogDir: t.TempDir(), Level: "debug"}))
	assert.Equal(t, "debug", m.Config().Level)
	assert.NotSame(t, before, m.GetLogger("breaker"))

	assert.Error(t, m.ReloadConfig(ManagerConfig{Level: "loud"}))
}

func TestCtxZapLogger_TraceID(t *testing.T) {
	log, logs := NewObserved("limiter")

	ctx := WithTraceID(context.Background(), "trace-123")
	log.InfoCtx(ctx, "window reset", zap.String("key", "svc:client"))
	log.With(zap.String("component", "coordinator")).Warn("no trace")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "trace-123", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "limiter", entries[0].ContextMap()["module"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
	assert.Equal(t, "coordinator", entries[1].ContextMap()["component"])
}

func TestTraceIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), "traceId", "legacy")
	assert.Equal(t, "legacy", TraceIDFromContext(ctx, "trace_id"))

	ctx = context.WithValue(ctx, "x-trace", "custom")
	assert.Equal(t, "custom", TraceIDFromContext(ctx, "x-trace"))

	assert.Empty(t, TraceIDFromContext(context.Background(), ""))

	ctx = WithTraceID(ctx, "typed")
	assert.Equal(t, "typed", TraceIDFromContext(ctx, "x-trace"))
}

func TestCaptureStacktrace_Depth(t *testing.T) {
	stack := CaptureStacktrace(1, 2)
	assert.Contains(t, stack, "TestCaptureStacktrace_Depth")
	assert.Equal(t, 2, strings.Count(stack, "\n\t"))
}
