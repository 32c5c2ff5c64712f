package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/pkg/metrics"
)

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Dispatcher drains pending outbox records and publishes them until the
// broker acknowledges. A record is marked sent only after a successful
// publish; a failed publish stops the current batch so per-order ordering
// is preserved, and the record is retried on the next tick.
type Dispatcher struct {
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	BatchSize int
	Log       *zap.Logger
	Metrics   *metrics.OutboxMetrics
}

func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	batch := d.BatchSize
	if batch <= 0 {
		batch = 100
	}
	recs, err := d.Source.FetchPending(ctx, batch)
	if err != nil {
		d.Log.Error("outbox fetch failed", zap.Error(err))
		return
	}
	for _, rec := range recs {
		if err := d.Publisher.Publish(ctx, rec); err != nil {
			d.Log.Error("outbox publish failed",
				zap.Int64("outbox_id", rec.ID),
				zap.String("event_id", rec.EventID),
				zap.String("topic", rec.Topic),
				zap.Error(err))
			if d.Metrics != nil {
				d.Metrics.PublishErrors.Inc()
			}
			return
		}
		if err := d.Source.MarkSent(ctx, rec.ID); err != nil {
			// The publish went out; a redelivered duplicate is absorbed by
			// the consumer side, so log and move on.
			d.Log.Warn("outbox mark-sent failed, record will be re-published",
				zap.Int64("outbox_id", rec.ID), zap.Error(err))
			return
		}
		if d.Metrics != nil {
			d.Metrics.Published.Inc()
		}
		d.Log.Info("event published",
			zap.String("event_id", rec.EventID),
			zap.String("topic", rec.Topic),
			zap.String("routing_key", rec.RoutingKey),
			zap.String("order_id", rec.Key))
	}
}
