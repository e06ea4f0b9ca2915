package kafka

import (
	"context"
	"time"
)

// HealthChecker reports broker reachability to the health aggregator.
type HealthChecker struct {
	manager *Manager
	timeout time.Duration
}

func NewHealthChecker(m *Manager) *HealthChecker {
	return &HealthChecker{manager: m, timeout: 5 * time.Second}
}

func (h *HealthChecker) Name() string {
	return "kafka"
}

func (h *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.manager.Ping(ctx)
}
