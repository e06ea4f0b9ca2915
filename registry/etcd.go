package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdConfig configures the etcd mirror.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

func (c *EtcdConfig) ApplyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "/mesh/services"
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = []string{"127.0.0.1:2379"}
	}
}

func (c EtcdConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoints, validation.Required),
		validation.Field(&c.DialTimeout, validation.Min(100*time.Millisecond)),
		validation.Field(&c.Prefix, validation.Required),
	)
}

// NewEtcdClient dials etcd with the module logger attached.
func NewEtcdClient(cfg EtcdConfig, log *logger.CtxZapLogger) (*clientv3.Client, error) {
	cfg.ApplyDefaults()
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Logger:      log.GetZapLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}
	return client, nil
}

// EtcdKV is the subset of *clientv3.Client the mirror needs.
type EtcdKV interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

// EtcdMirror copies registry membership into etcd under
// <prefix>/<service>/<instance id>. Every key hangs off one lease kept
// alive while the mirror runs, so a dead mirror's keys expire with it.
// It never fails the registry operation that triggered it.
type EtcdMirror struct {
	kv     EtcdKV
	prefix string
	ttl    time.Duration
	logger *logger.CtxZapLogger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

func NewEtcdMirror(kv EtcdKV, prefix string, ttl time.Duration, log *logger.CtxZapLogger) *EtcdMirror {
	if log == nil {
		log = logger.GetLogger("registry")
	}
	if prefix == "" {
		prefix = "/mesh/services"
	}
	return &EtcdMirror{
		kv:     kv,
		prefix: strings.TrimSuffix(prefix, "/"),
		ttl:    ttl,
		logger: log,
	}
}

// Key returns the etcd key of inst.
func (m *EtcdMirror) Key(inst ServiceInstance) string {
	return m.prefix + "/" + inst.ServiceName + "/" + inst.InstanceID
}

// Start grants the lease and keeps it alive until Stop.
func (m *EtcdMirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	ttl := int64(m.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	resp, err := m.kv.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	keepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := m.kv.KeepAlive(keepCtx, resp.ID)
	if err != nil {
		cancel()
		_, _ = m.kv.Revoke(context.Background(), resp.ID)
		return fmt.Errorf("start keepalive: %w", err)
	}
	m.leaseID = resp.ID
	m.cancel = cancel

	go m.drain(keepCtx, ch)

	m.logger.InfoCtx(ctx, "etcd mirror started",
		zap.String("prefix", m.prefix),
		zap.Int64("ttl", ttl),
		zap.String("lease_id", fmt.Sprintf("%x", resp.ID)))
	return nil
}

// drain consumes keepalive responses; a closed channel means the lease is lost.
func (m *EtcdMirror) drain(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					m.logger.WarnCtx(ctx, "etcd lease keepalive stopped")
				}
				return
			}
		}
	}
}

// Stop cancels the keepalive and revokes the lease, dropping every mirrored key.
func (m *EtcdMirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, id := m.cancel, m.leaseID
	m.cancel, m.leaseID = nil, 0
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if _, err := m.kv.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

// OnRegistered implements Listener.
func (m *EtcdMirror) OnRegistered(ctx context.Context, inst ServiceInstance) error {
	m.mu.Lock()
	id := m.leaseID
	m.mu.Unlock()
	if id == 0 {
		m.logger.DebugCtx(ctx, "etcd mirror not started, skip put", zap.String("instance_id", inst.InstanceID))
		return nil
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	if _, err := m.kv.Put(ctx, m.Key(inst), string(val), clientv3.WithLease(id)); err != nil {
		m.logger.WarnCtx(ctx, "etcd put failed", zap.String("key", m.Key(inst)), zap.Error(err))
	}
	return nil
}

// OnUnregistered implements Listener.
func (m *EtcdMirror) OnUnregistered(ctx context.Context, inst ServiceInstance) error {
	if _, err := m.kv.Delete(ctx, m.Key(inst)); err != nil {
		m.logger.WarnCtx(ctx, "etcd delete failed", zap.String("key", m.Key(inst)), zap.Error(err))
	}
	return nil
}

var _ Listener = (*EtcdMirror)(nil)
