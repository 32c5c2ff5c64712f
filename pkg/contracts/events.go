package contracts

import (
	"encoding/json"
	"time"
)

// Topics. The broker topology (creation, partitions, retention) is
// provisioned outside this repo.
const (
	TopicOrderEvents        = "order.events"
	TopicInventoryResponses = "inventory.responses"
	TopicInventoryDLQ       = "inventory.responses.dlq"
)

// Routing keys carried in the routing-key message header. They mirror the
// original exchange bindings: order-side creation events vs the two inventory
// outcomes on the shared response channel.
const (
	RoutingKeyOrderCreated  = "order.created"
	RoutingKeyStockReserved = "stock.reserved"
	RoutingKeyStockRejected = "stock.rejected"
)

const RoutingKeyHeader = "routing-key"

type EventType string

const (
	EventOrderCreated  EventType = "ORDER_CREATED"
	EventStockReserved EventType = "STOCK_RESERVED"
	EventStockRejected EventType = "STOCK_REJECTED"
)

// OrderEvent is the single schema family for outbound order-created
// notifications and inbound inventory outcomes.
type OrderEvent struct {
	EventID         string      `json:"eventId,omitempty"`
	OrderID         string      `json:"orderId"`
	CustomerID      string      `json:"customerId"`
	EventType       EventType   `json:"eventType"`
	Items           []ItemEvent `json:"items"`
	ShippingAddress string      `json:"shippingAddress"`
	Timestamp       int64       `json:"timestamp"` // epoch millis
}

type ItemEvent struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Address is the shipping address payload serialized into
// OrderEvent.ShippingAddress.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (e OrderEvent) RoutingKey() string {
	switch e.EventType {
	case EventStockReserved:
		return RoutingKeyStockReserved
	case EventStockRejected:
		return RoutingKeyStockRejected
	default:
		return RoutingKeyOrderCreated
	}
}

func (e OrderEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (OrderEvent, error) {
	var e OrderEvent
	err := json.Unmarshal(data, &e)
	return e, err
}

func NowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
