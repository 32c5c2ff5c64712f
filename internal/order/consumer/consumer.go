package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/internal/order/service"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
	"github.com/nazeru/order-outbox-lab/pkg/metrics"
)

// Reader is the slice of kafka.Reader the consumer uses. Offsets are
// committed explicitly: a message is acked only once it was applied,
// absorbed as a duplicate, or dead-lettered.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key, routingKey string, payload []byte) error
}

type Handler interface {
	HandleInventoryOutcome(ctx context.Context, evt contracts.OrderEvent) (service.Disposition, error)
}

// Consumer drives the Reconciliation Handler off the inventory response
// queue. Retryable failures (unknown order, store errors) are redelivered
// with backoff up to MaxAttempts, then routed to the dead-letter topic so an
// operator sees them instead of the event silently dropping.
type Consumer struct {
	Reader     Reader
	Handler    Handler
	DeadLetter Publisher
	Log        *zap.Logger
	Metrics    *metrics.ConsumerMetrics

	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.Error("kafka fetch error", zap.Error(err))
			if !c.sleep(ctx, 2*time.Second) {
				return ctx.Err()
			}
			continue
		}
		if err := c.process(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	evt, err := contracts.Unmarshal(msg.Value)
	if err != nil {
		c.Log.Error("undecodable inventory event, dead-lettering",
			zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		return c.deadLetterAndCommit(ctx, msg, "unknown")
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		disp, err := c.Handler.HandleInventoryOutcome(ctx, evt)
		if err == nil {
			c.count(evt.EventType, dispositionResult(disp))
			return c.commit(ctx, msg)
		}
		if errors.Is(err, service.ErrBadEvent) {
			c.Log.Error("unprocessable inventory event, dead-lettering",
				zap.String("event_id", evt.EventID), zap.String("order_id", evt.OrderID), zap.Error(err))
			return c.deadLetterAndCommit(ctx, msg, string(evt.EventType))
		}
		c.count(evt.EventType, metrics.ResultError)
		c.Log.Warn("inventory event handling failed",
			zap.String("event_id", evt.EventID),
			zap.String("order_id", evt.OrderID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < attempts && !c.sleep(ctx, c.backoff(attempt)) {
			return ctx.Err()
		}
	}

	c.Log.Error("inventory event exhausted redelivery, dead-lettering",
		zap.String("event_id", evt.EventID), zap.String("order_id", evt.OrderID))
	return c.deadLetterAndCommit(ctx, msg, string(evt.EventType))
}

func (c *Consumer) deadLetterAndCommit(ctx context.Context, msg kafka.Message, eventType string) error {
	for {
		err := c.DeadLetter.Publish(ctx, contracts.TopicInventoryDLQ, string(msg.Key), routingKeyOf(msg), msg.Value)
		if err == nil {
			break
		}
		c.Log.Error("dead-letter publish failed", zap.Error(err))
		if !c.sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
	c.count(contracts.EventType(eventType), metrics.ResultDeadLetter)
	return c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.Reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The offset stays uncommitted; the message is redelivered and the
		// terminal-state guard absorbs the repeat.
		c.Log.Warn("offset commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
	return nil
}

func (c *Consumer) backoff(attempt int) time.Duration {
	base := c.RetryBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return time.Duration(attempt) * base
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) count(typ contracts.EventType, result string) {
	if c.Metrics != nil {
		c.Metrics.Processed.WithLabelValues(string(typ), result).Inc()
	}
}

func routingKeyOf(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == contracts.RoutingKeyHeader {
			return string(h.Value)
		}
	}
	return ""
}

func dispositionResult(d service.Disposition) string {
	switch d {
	case service.DispositionDuplicate:
		return metrics.ResultDuplicate
	case service.DispositionConflict:
		return metrics.ResultConflict
	default:
		return metrics.ResultApplied
	}
}
