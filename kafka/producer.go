package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"go.uber.org/zap"
)

// Message is one outbound record.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerResult reports where a record landed.
type ProducerResult struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Producer sends records synchronously.
type Producer interface {
	Send(ctx context.Context, msg *Message) (*ProducerResult, error)
	Close() error
}

// SyncProducer wraps sarama.SyncProducer.
type SyncProducer struct {
	producer sarama.SyncProducer
	logger   *logger.CtxZapLogger
	mu       sync.RWMutex
	closed   bool
}

// NewSyncProducer dials brokers and returns a ready producer.
func NewSyncProducer(brokers []string, saramaCfg *sarama.Config, log *logger.CtxZapLogger) (*SyncProducer, error) {
	sp, err := sarama.NewSyncProducer(brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create sync producer failed: %w", err)
	}
	return WrapSyncProducer(sp, log), nil
}

// WrapSyncProducer adapts an existing sarama producer, e.g. a mocks.SyncProducer.
func WrapSyncProducer(sp sarama.SyncProducer, log *logger.CtxZapLogger) *SyncProducer {
	return &SyncProducer{producer: sp, logger: log}
}

func (p *SyncProducer) Send(ctx context.Context, msg *Message) (*ProducerResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("producer is closed")
	}
	if msg == nil || msg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}
	if !msg.Timestamp.IsZero() {
		pm.Timestamp = msg.Timestamp
	}
	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if traceID := logger.TraceIDFromContext(ctx, "trace_id"); traceID != "" {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte("trace_id"), Value: []byte(traceID)})
	}

	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		p.logger.ErrorCtx(ctx, "send message failed",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return nil, fmt.Errorf("send message failed: %w", err)
	}

	p.logger.DebugCtx(ctx, "message sent",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return &ProducerResult{Topic: msg.Topic, Partition: partition, Offset: offset}, nil
}

// PublishJSON implements event.Publisher.
func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, payload any) error {
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

func (p *SyncProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close producer failed: %w", err)
	}
	return nil
}

var _ event.Publisher = (*SyncProducer)(nil)
