package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsHook records every command, pipelined or not.
type MetricsHook struct {
	commands metric.Int64Counter
	duration metric.Float64Histogram
}

var _ redis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(meter metric.Meter) (*MetricsHook, error) {
	commands, err := meter.Int64Counter(
		"redis_commands_total",
		metric.WithDescription("Redis commands by name and outcome"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register redis_commands_total: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"redis_command_duration_seconds",
		metric.WithDescription("Redis command latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("register redis_command_duration_seconds: %w", err)
	}
	return &MetricsHook{commands: commands, duration: duration}, nil
}

func (h *MetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *MetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.record(ctx, cmd.Name(), time.Since(start), err)
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if len(cmds) == 0 {
			return err
		}
		each := time.Since(start) / time.Duration(len(cmds))
		for _, cmd := range cmds {
			h.record(ctx, cmd.Name(), each, cmd.Err())
		}
		return err
	}
}

func (h *MetricsHook) record(ctx context.Context, name string, d time.Duration, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("status", status),
	)
	h.commands.Add(ctx, 1, attrs)
	h.duration.Record(ctx, d.Seconds(), attrs)
}
