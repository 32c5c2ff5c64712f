package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingOrder() Order {
	return Order{
		ID:               "ord-1",
		CustomerID:       "11111111-1111-1111-1111-111111111111",
		Status:           OrderStatusPending,
		PaymentReference: "REF1",
		Items:            []OrderItem{{ProductID: "P1", Quantity: 2, UnitPrice: 9.99}},
	}
}

func TestApplyReserved(t *testing.T) {
	now := time.Now()
	next, applied := pendingOrder().Apply(OutcomeReserved, now)

	require.True(t, applied)
	assert.Equal(t, OrderStatusConfirmed, next.Status)
	assert.Empty(t, next.Reason)
	assert.Equal(t, now, next.UpdatedAt)
}

func TestApplyRejected(t *testing.T) {
	next, applied := pendingOrder().Apply(OutcomeRejected, time.Now())

	require.True(t, applied)
	assert.Equal(t, OrderStatusCancelled, next.Status)
	assert.Equal(t, RejectionReason, next.Reason)
}

func TestApplyIsPure(t *testing.T) {
	o := pendingOrder()
	_, _ = o.Apply(OutcomeRejected, time.Now())

	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Empty(t, o.Reason)
}

func TestTerminalStatesAbsorb(t *testing.T) {
	tests := []struct {
		name    string
		status  OrderStatus
		reason  string
		outcome Outcome
	}{
		{"confirmed absorbs reserved", OrderStatusConfirmed, "", OutcomeReserved},
		{"confirmed absorbs rejected", OrderStatusConfirmed, "", OutcomeRejected},
		{"cancelled absorbs reserved", OrderStatusCancelled, RejectionReason, OutcomeReserved},
		{"cancelled absorbs rejected", OrderStatusCancelled, RejectionReason, OutcomeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder()
			o.Status = tt.status
			o.Reason = tt.reason

			next, applied := o.Apply(tt.outcome, time.Now())

			assert.False(t, applied)
			assert.Equal(t, tt.status, next.Status)
			assert.Equal(t, tt.reason, next.Reason)
		})
	}
}

func TestOutcomeTargetStatus(t *testing.T) {
	assert.Equal(t, OrderStatusConfirmed, OutcomeReserved.TargetStatus())
	assert.Equal(t, OrderStatusCancelled, OutcomeRejected.TargetStatus())
}

func TestTerminal(t *testing.T) {
	o := pendingOrder()
	assert.False(t, o.Terminal())

	o.Status = OrderStatusConfirmed
	assert.True(t, o.Terminal())

	o.Status = OrderStatusCancelled
	assert.True(t, o.Terminal())
}
