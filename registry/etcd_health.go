package registry

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStatuser is the part of *clientv3.Client the health check uses.
type EtcdStatuser interface {
	Status(ctx context.Context, endpoint string) (*clientv3.StatusResponse, error)
}

// EtcdHealthChecker reports healthy when at least one endpoint answers.
type EtcdHealthChecker struct {
	client    EtcdStatuser
	endpoints []string
}

func NewEtcdHealthChecker(client EtcdStatuser, endpoints []string) *EtcdHealthChecker {
	return &EtcdHealthChecker{client: client, endpoints: endpoints}
}

func (h *EtcdHealthChecker) Name() string {
	return "etcd"
}

func (h *EtcdHealthChecker) Check(ctx context.Context) error {
	var lastErr error
	for _, ep := range h.endpoints {
		if _, err := h.client.Status(ctx, ep); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		return fmt.Errorf("no etcd endpoints configured")
	}
	return fmt.Errorf("etcd unreachable: %w", lastErr)
}
