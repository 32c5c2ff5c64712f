package domain

import "time"

type OrderID string
type ProductID string

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// RejectionReason is recorded when stock cannot be reserved. Cancellation is
// the only path that sets a reason.
const RejectionReason = "Stock not available for requested items"

type OrderItem struct {
	ProductID ProductID
	Quantity  int
	UnitPrice float64
}

type ShippingAddress struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// Order is the aggregate root. It is a plain value: nothing mutates it in
// place, transitions return a new value via Apply.
type Order struct {
	ID               OrderID
	CustomerID       string
	Status           OrderStatus
	Reason           string
	PaymentReference string
	ShippingAddress  ShippingAddress
	Items            []OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further transition is accepted.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusConfirmed || o.Status == OrderStatusCancelled
}

// Outcome is the closed set of inventory reservation results.
type Outcome int

const (
	OutcomeReserved Outcome = iota
	OutcomeRejected
)

func (oc Outcome) String() string {
	if oc == OutcomeRejected {
		return "rejected"
	}
	return "reserved"
}

// TargetStatus is the terminal status an outcome maps to.
func (oc Outcome) TargetStatus() OrderStatus {
	switch oc {
	case OutcomeRejected:
		return OrderStatusCancelled
	default:
		return OrderStatusConfirmed
	}
}

// Apply runs the state machine: PENDING moves to the outcome's terminal
// status, terminal states absorb everything. The second result reports
// whether the transition was applied; false means the order was already
// terminal and the event must be treated as a duplicate.
func (o Order) Apply(oc Outcome, now time.Time) (Order, bool) {
	if o.Terminal() {
		return o, false
	}
	switch oc {
	case OutcomeReserved:
		o.Status = OrderStatusConfirmed
	case OutcomeRejected:
		o.Status = OrderStatusCancelled
		o.Reason = RejectionReason
	}
	o.UpdatedAt = now
	return o, true
}
