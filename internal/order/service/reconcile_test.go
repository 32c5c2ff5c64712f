package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/order-outbox-lab/internal/order/domain"
	"github.com/nazeru/order-outbox-lab/internal/order/store"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
)

func createPending(t *testing.T, fs *fakeStore, svc *Service) string {
	t.Helper()
	res, err := svc.CreateOrder(context.Background(), validInput(), "")
	require.NoError(t, err)
	return res.OrderID
}

func outcomeEvent(orderID, eventID string, typ contracts.EventType) contracts.OrderEvent {
	return contracts.OrderEvent{
		EventID:    eventID,
		OrderID:    orderID,
		CustomerID: "11111111-1111-1111-1111-111111111111",
		EventType:  typ,
		Timestamp:  contracts.NowMillis(),
	}
}

func TestHandleStockReserved(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	disp, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-1", contracts.EventStockReserved))
	require.NoError(t, err)
	assert.Equal(t, DispositionApplied, disp)

	o := fs.orders[id]
	assert.Equal(t, domain.OrderStatusConfirmed, o.Status)
	assert.Empty(t, o.Reason)
}

func TestHandleStockRejected(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	disp, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-1", contracts.EventStockRejected))
	require.NoError(t, err)
	assert.Equal(t, DispositionApplied, disp)

	o := fs.orders[id]
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Equal(t, domain.RejectionReason, o.Reason)
}

func TestHandleDuplicateOutcome(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	_, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-1", contracts.EventStockReserved))
	require.NoError(t, err)

	// Redelivery with a fresh event id hits the terminal-state guard.
	disp, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-2", contracts.EventStockReserved))
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, disp)
	assert.Equal(t, domain.OrderStatusConfirmed, fs.orders[id].Status)
}

func TestHandleDuplicateEventIDViaInbox(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	evt := outcomeEvent(id, "evt-1", contracts.EventStockReserved)
	_, err := svc.HandleInventoryOutcome(context.Background(), evt)
	require.NoError(t, err)

	disp, err := svc.HandleInventoryOutcome(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, disp)
}

func TestHandleConflictingOutcomeFirstAppliedWins(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	_, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-1", contracts.EventStockReserved))
	require.NoError(t, err)

	disp, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-2", contracts.EventStockRejected))
	require.NoError(t, err)
	assert.Equal(t, DispositionConflict, disp)

	o := fs.orders[id]
	assert.Equal(t, domain.OrderStatusConfirmed, o.Status)
	assert.Empty(t, o.Reason, "conflicting rejection must not smear a reason onto a confirmed order")
}

func TestHandleUnknownOrderIsSignaled(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)

	_, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent("no-such-order", "evt-1", contracts.EventStockReserved))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, fs.inbox["evt-1"], "a failed event must stay eligible for redelivery")
}

func TestHandleUnknownEventType(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	_, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-1", "ORDER_CREATED"))
	assert.ErrorIs(t, err, ErrBadEvent)
}

func TestHandleConcurrentFinalizeLoserAbsorbs(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)
	id := createPending(t, fs, svc)

	// The conditional update reports no row changed, as if another delivery
	// finalized between our read and write.
	fs.failFinalize = true
	disp, err := svc.HandleInventoryOutcome(context.Background(), outcomeEvent(id, "evt-1", contracts.EventStockReserved))
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, disp)
}
