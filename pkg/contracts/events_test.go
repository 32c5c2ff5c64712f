package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, RoutingKeyOrderCreated, OrderEvent{EventType: EventOrderCreated}.RoutingKey())
	assert.Equal(t, RoutingKeyStockReserved, OrderEvent{EventType: EventStockReserved}.RoutingKey())
	assert.Equal(t, RoutingKeyStockRejected, OrderEvent{EventType: EventStockRejected}.RoutingKey())
}

func TestWireFieldNames(t *testing.T) {
	evt := OrderEvent{
		EventID:    "e1",
		OrderID:    "ord-1",
		CustomerID: "c1",
		EventType:  EventOrderCreated,
		Items:      []ItemEvent{{ProductID: "P1", Quantity: 2, UnitPrice: 9.99}},
		Timestamp:  1717243200000,
	}
	data, err := evt.Marshal()
	require.NoError(t, err)

	// The consumer on the other side is not ours; field names are contract.
	s := string(data)
	assert.Contains(t, s, `"orderId":"ord-1"`)
	assert.Contains(t, s, `"customerId":"c1"`)
	assert.Contains(t, s, `"eventType":"ORDER_CREATED"`)
	assert.Contains(t, s, `"productId":"P1"`)
	assert.Contains(t, s, `"unitPrice":9.99`)
	assert.Contains(t, s, `"timestamp":1717243200000`)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}
