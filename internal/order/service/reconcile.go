package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/internal/order/domain"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
)

// Disposition tells the consumer what happened to an inbound event so it can
// ack and count it correctly.
type Disposition int

const (
	// DispositionApplied: the order left PENDING because of this event.
	DispositionApplied Disposition = iota
	// DispositionDuplicate: the order was already in the terminal state this
	// event targets (or the event id was seen before); absorbed, ack.
	DispositionDuplicate
	// DispositionConflict: the order is terminal with the opposite outcome.
	// First applied wins; absorbed like a duplicate but counted separately.
	DispositionConflict
)

// HandleInventoryOutcome applies the reconciliation transition for one
// inbound inventory event. An unknown orderId returns an error: the message
// must not be acked and stays subject to the channel's redelivery policy.
func (s *Service) HandleInventoryOutcome(ctx context.Context, evt contracts.OrderEvent) (Disposition, error) {
	var outcome domain.Outcome
	switch evt.EventType {
	case contracts.EventStockReserved:
		outcome = domain.OutcomeReserved
	case contracts.EventStockRejected:
		outcome = domain.OutcomeRejected
	default:
		return 0, fmt.Errorf("%w: event type %q", ErrBadEvent, evt.EventType)
	}

	if evt.EventID != "" {
		seen, err := s.store.EventSeen(ctx, evt.EventID)
		if err != nil {
			return 0, fmt.Errorf("inbox lookup: %w", err)
		}
		if seen {
			s.log.Info("duplicate event absorbed via inbox",
				zap.String("event_id", evt.EventID),
				zap.String("order_id", evt.OrderID))
			return DispositionDuplicate, nil
		}
	}

	o, err := s.store.GetOrder(ctx, evt.OrderID)
	if err != nil {
		return 0, fmt.Errorf("inventory outcome for order %s: %w", evt.OrderID, err)
	}

	next, applied := o.Apply(outcome, s.now())
	if !applied {
		disp := DispositionDuplicate
		if o.Status != outcome.TargetStatus() {
			disp = DispositionConflict
			s.log.Warn("conflicting inventory outcome ignored, first applied wins",
				zap.String("order_id", evt.OrderID),
				zap.String("applied_status", string(o.Status)),
				zap.String("ignored_outcome", outcome.String()))
		} else {
			s.log.Info("duplicate inventory outcome absorbed",
				zap.String("order_id", evt.OrderID),
				zap.String("status", string(o.Status)))
		}
		s.markSeen(ctx, evt.EventID)
		return disp, nil
	}

	ok, err := s.store.FinalizeOrder(ctx, evt.OrderID, next.Status, next.Reason)
	if err != nil {
		return 0, fmt.Errorf("finalize order %s: %w", evt.OrderID, err)
	}
	if !ok {
		// A concurrent delivery won the conditional update; absorb.
		s.log.Info("order already finalized by concurrent delivery",
			zap.String("order_id", evt.OrderID))
		s.markSeen(ctx, evt.EventID)
		return DispositionDuplicate, nil
	}

	s.log.Info("order reconciled",
		zap.String("order_id", evt.OrderID),
		zap.String("status", string(next.Status)),
		zap.String("outcome", outcome.String()))
	s.markSeen(ctx, evt.EventID)
	return DispositionApplied, nil
}

// markSeen is best effort: a lost mark only costs one extra round trip on a
// future duplicate, which the terminal-state guard absorbs anyway.
func (s *Service) markSeen(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := s.store.MarkEventSeen(ctx, eventID); err != nil {
		s.log.Warn("inbox mark failed", zap.String("event_id", eventID), zap.Error(err))
	}
}
