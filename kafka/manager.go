package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/retry"
	"go.uber.org/zap"
)

var ErrManagerClosed = errors.New("kafka manager is closed")

// Manager owns the producer and every consumer group of one process.
// It implements event.Publisher and event.Subscriber.
type Manager struct {
	config       Config
	saramaConfig *sarama.Config
	logger       *logger.CtxZapLogger

	client   sarama.Client
	producer Producer
	// group -> topic -> handler, frozen by Start
	subscriptions map[string]map[string]event.Handler
	groups        []*ConsumerGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewManager(cfg Config, log *logger.CtxZapLogger) (*Manager, error) {
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	saramaCfg, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build sarama config failed: %w", err)
	}

	return &Manager{
		config:        cfg,
		saramaConfig:  saramaCfg,
		logger:        log,
		subscriptions: make(map[string]map[string]event.Handler),
	}, nil
}

func buildSaramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("parse kafka version failed: %w", err)
	}
	sc.Version = version
	sc.ClientID = cfg.ClientID

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	switch cfg.Producer.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}
	sc.Producer.Timeout = cfg.Producer.Timeout
	sc.Producer.Retry.Max = cfg.Producer.RetryMax
	sc.Producer.Retry.Backoff = cfg.Producer.RetryBackoff
	sc.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	sc.Producer.Idempotent = cfg.Producer.Idempotent
	if cfg.Producer.Idempotent {
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Net.MaxOpenRequests = 1
	}
	switch cfg.Producer.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Consumer.Return.Errors = true
	if cfg.Consumer.OffsetInitial == -2 {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.Consumer.AutoCommit
	sc.Consumer.Offsets.AutoCommit.Interval = cfg.Consumer.AutoCommitInterval
	sc.Consumer.Group.Session.Timeout = cfg.Consumer.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = cfg.Consumer.HeartbeatInterval
	sc.Consumer.MaxProcessingTime = cfg.Consumer.MaxProcessingTime
	switch cfg.Consumer.RebalanceStrategy {
	case "roundrobin":
		sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	case "sticky":
		sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	default:
		sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	}

	if cfg.SASL != nil && cfg.SASL.Enabled {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASL.Username
		sc.Net.SASL.Password = cfg.SASL.Password
		switch cfg.SASL.Mechanism {
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
			}
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
			}
		default:
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.TLS.InsecureSkipVerify}
	}
	return sc, nil
}

// Connect dials the cluster and creates the producer. A broker that is not
// up yet is retried with exponential backoff up to ConnectAttempts.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	err := retry.Do(ctx, func() error {
		client, err := sarama.NewClient(m.config.Brokers, m.saramaConfig)
		if err != nil {
			return err
		}
		if len(client.Brokers()) == 0 {
			_ = client.Close()
			return fmt.Errorf("no brokers available")
		}
		m.client = client
		return nil
	},
		retry.MaxAttempts(m.config.ConnectAttempts),
		retry.Backoff(retry.ExponentialBackoff(200*time.Millisecond, retry.WithMaxDelay(5*time.Second))),
		retry.OnRetry(func(attempt int, err error) {
			m.logger.WarnCtx(ctx, "kafka connect failed, retrying",
				zap.Int("attempt", attempt),
				zap.Strings("brokers", m.config.Brokers),
				zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}

	sp, err := sarama.NewSyncProducerFromClient(m.client)
	if err != nil {
		return fmt.Errorf("create producer failed: %w", err)
	}
	m.producer = WrapSyncProducer(sp, m.logger)

	m.logger.InfoCtx(ctx, "kafka manager connected", zap.Strings("brokers", m.config.Brokers))
	return nil
}

// UseProducer replaces the producer, e.g. with a WrapSyncProducer(mocks.NewSyncProducer(...)).
func (m *Manager) UseProducer(p Producer) {
	m.mu.Lock()
	m.producer = p
	m.mu.Unlock()
}

// Producer returns the current producer, nil before Connect.
func (m *Manager) Producer() Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producer
}

// PublishJSON implements event.Publisher.
func (m *Manager) PublishJSON(ctx context.Context, topic, key string, payload any) error {
	m.mu.RLock()
	p, closed := m.producer, m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}
	if p == nil {
		return fmt.Errorf("producer not available")
	}

	data, err := event.Encode(payload)
	if err != nil {
		return err
	}
	_, err = p.Send(ctx, &Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: map[string]string{"content-type": "application/json"},
	})
	return err
}

// Subscribe implements event.Subscriber. Subscriptions are collected until Start.
func (m *Manager) Subscribe(topic, group string, handler event.Handler) error {
	if topic == "" {
		return event.ErrTopicRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return fmt.Errorf("subscribe %s/%s after start", group, topic)
	}

	topics, ok := m.subscriptions[group]
	if !ok {
		topics = make(map[string]event.Handler)
		m.subscriptions[group] = topics
	}
	if prev, ok := topics[topic]; ok {
		topics[topic] = chain(prev, handler)
	} else {
		topics[topic] = handler
	}
	return nil
}

// chain runs both handlers; the first error wins.
func chain(a, b event.Handler) event.Handler {
	return func(ctx context.Context, msg *event.Message) error {
		errA := a(ctx, msg)
		errB := b(ctx, msg)
		if errA != nil {
			return errA
		}
		return errB
	}
}

// Start creates one consumer group per subscription group and starts it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return nil
	}
	if m.client == nil {
		return fmt.Errorf("start before connect")
	}
	m.started = true

	for group, handlers := range m.subscriptions {
		groupID := m.config.Consumer.GroupPrefix + group
		cg, err := sarama.NewConsumerGroupFromClient(groupID, m.client)
		if err != nil {
			return fmt.Errorf("create consumer group %s failed: %w", groupID, err)
		}
		c := NewConsumerGroup(cg, groupID, handlers, !m.config.Consumer.AutoCommit, m.logger)
		if err := c.Start(ctx); err != nil {
			return err
		}
		m.groups = append(m.groups, c)
	}
	return nil
}

// Ping checks that the controller broker is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	client, closed := m.client, m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}
	if client == nil {
		return fmt.Errorf("kafka not connected")
	}

	done := make(chan error, 1)
	go func() {
		if err := client.RefreshMetadata(); err != nil {
			done <- fmt.Errorf("refresh metadata failed: %w", err)
			return
		}
		if _, err := client.Controller(); err != nil {
			done <- fmt.Errorf("get controller failed: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (m *Manager) Config() Config {
	return m.config
}

// Close stops every consumer group, then the producer and client.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	groups, producer, client := m.groups, m.producer, m.client
	m.mu.Unlock()

	var errs []error
	for _, g := range groups {
		if err := g.Stop(); err != nil {
			m.logger.Error("close consumer failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			m.logger.Error("close producer failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if client != nil && !client.Closed() {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.logger.Info("kafka manager closed")
	return errors.Join(errs...)
}

// Shutdown implements do.Shutdownable.
func (m *Manager) Shutdown() error {
	return m.Close()
}

var (
	_ event.Publisher  = (*Manager)(nil)
	_ event.Subscriber = (*Manager)(nil)
)
