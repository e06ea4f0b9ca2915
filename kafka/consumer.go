package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/logger"
	"go.uber.org/zap"
)

// ConsumerGroup runs one sarama consumer group over a fixed topic set.
type ConsumerGroup struct {
	group    sarama.ConsumerGroup
	groupID  string
	handlers map[string]event.Handler
	commit   bool
	logger   *logger.CtxZapLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewConsumerGroup wraps group. commit forces a synchronous commit after each
// message, for configurations with auto commit disabled.
func NewConsumerGroup(group sarama.ConsumerGroup, groupID string, handlers map[string]event.Handler, commit bool, log *logger.CtxZapLogger) *ConsumerGroup {
	return &ConsumerGroup{
		group:    group,
		groupID:  groupID,
		handlers: handlers,
		commit:   commit,
		logger:   log,
	}
}

func (c *ConsumerGroup) topics() []string {
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Start launches the consume loop. It returns immediately.
func (c *ConsumerGroup) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer group %s is already running", c.groupID)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.running = true
	go c.consumeLoop(loopCtx)

	c.logger.InfoCtx(ctx, "consumer group started",
		zap.String("group_id", c.groupID),
		zap.Strings("topics", c.topics()))
	return nil
}

func (c *ConsumerGroup) consumeLoop(ctx context.Context) {
	defer close(c.doneCh)
	h := &consumerGroupHandler{handlers: c.handlers, commit: c.commit, logger: c.logger}
	topics := c.topics()

	go func() {
		for err := range c.group.Errors() {
			c.logger.WarnCtx(ctx, "consumer group error", zap.String("group_id", c.groupID), zap.Error(err))
		}
	}()

	for {
		// Consume returns on every rebalance
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.ErrorCtx(ctx, "consume error", zap.String("group_id", c.groupID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop cancels the loop, waits for it and closes the group.
func (c *ConsumerGroup) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.doneCh
	c.mu.Unlock()

	<-done
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group failed: %w", err)
	}
	c.logger.Info("consumer group stopped", zap.String("group_id", c.groupID))
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler. A message is
// marked only after its handler returns.
type consumerGroupHandler struct {
	handlers map[string]event.Handler
	commit   bool
	logger   *logger.CtxZapLogger
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.DebugCtx(session.Context(), "consumer session setup",
		zap.Int32("generation_id", session.GenerationID()),
		zap.String("member_id", session.MemberID()))
	return nil
}

func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.logger.DebugCtx(session.Context(), "consumer session cleanup",
		zap.Int32("generation_id", session.GenerationID()))
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(session, msg)
		}
	}
}

func (h *consumerGroupHandler) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	ctx := session.Context()
	m := event.NewMessage(msg.Topic, string(msg.Key), msg.Value, func() {
		session.MarkMessage(msg, "")
		if h.commit {
			session.Commit()
		}
	})
	m.Timestamp = msg.Timestamp
	for _, hdr := range msg.Headers {
		m.Headers[string(hdr.Key)] = string(hdr.Value)
	}
	if traceID := m.Headers["trace_id"]; traceID != "" {
		ctx = logger.WithTraceID(ctx, traceID)
	}
	defer m.Ack()

	handler, ok := h.handlers[msg.Topic]
	if !ok {
		h.logger.WarnCtx(ctx, "no handler for topic", zap.String("topic", msg.Topic))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorCtx(ctx, "message handler panicked",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, m); err != nil {
		// the message is still acknowledged; a poison record must not stall the partition
		h.logger.ErrorCtx(ctx, "handle message failed",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}
