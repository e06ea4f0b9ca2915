package event

import (
	"context"
	"sync"
	"time"
)

// Publisher sends a payload as JSON. Delivery is fire-and-forget.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, payload any) error
}

// Handler processes one consumed message. The transport acknowledges the
// message after Handler returns, whatever the error.
type Handler func(ctx context.Context, msg *Message) error

// Subscriber registers handlers per topic. Each group receives every message once.
type Subscriber interface {
	Subscribe(topic, group string, handler Handler) error
}

// Message is one consumed record.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time

	ackOnce sync.Once
	ack     func()
}

// NewMessage builds a message whose Ack runs ack at most once.
func NewMessage(topic, key string, value []byte, ack func()) *Message {
	return &Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Headers:   map[string]string{},
		Timestamp: time.Now(),
		ack:       ack,
	}
}

// Ack commits the message. Calling it more than once is a no-op.
func (m *Message) Ack() {
	m.ackOnce.Do(func() {
		if m.ack != nil {
			m.ack()
		}
	})
}

// NopPublisher drops everything. Used when a component runs without a bus.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, string, any) error { return nil }

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic, key string, payload any) error

func (f PublisherFunc) PublishJSON(ctx context.Context, topic, key string, payload any) error {
	return f(ctx, topic, key, payload)
}
