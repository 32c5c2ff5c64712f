package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/internal/order/domain"
	"github.com/nazeru/order-outbox-lab/internal/order/store"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
)

// ErrBadEvent marks an inbound event that can never be processed (unknown
// type tag). Redelivery cannot fix it, so the consumer dead-letters it
// immediately instead of retrying.
var ErrBadEvent = errors.New("malformed inventory event")

const createdMessage = "Order created successfully. Waiting for inventory validation."
const replayedMessage = "order already created for this idempotency key"

// Store is what the core needs from durable storage. *store.Store satisfies
// it; tests plug in a fake.
type Store interface {
	CreateOrder(ctx context.Context, o domain.Order, idemKey string, evt contracts.OrderEvent) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	FinalizeOrder(ctx context.Context, id string, status domain.OrderStatus, reason string) (bool, error)
	OrderIDByIdempotencyKey(ctx context.Context, key string) (string, error)
	EventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string) error
}

type Service struct {
	store Store
	log   *zap.Logger

	now   func() time.Time
	newID func() string
}

func New(st Store, log *zap.Logger) *Service {
	return &Service{
		store: st,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

type ItemInput struct {
	ProductID string
	Quantity  int
	UnitPrice float64
}

// CreateOrderInput is assumed already validated at the boundary.
type CreateOrderInput struct {
	CustomerID       string
	Items            []ItemInput
	ShippingAddress  domain.ShippingAddress
	PaymentReference string
}

type CreateOrderResult struct {
	OrderID  string
	Status   domain.OrderStatus
	Message  string
	Replayed bool
}

// CreateOrder assigns identity, persists the PENDING order and schedules the
// ORDER_CREATED event in the same transaction. Publication itself happens out
// of band in the outbox dispatcher, so a broker outage can never strand an
// order in PENDING without its event.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput, idemKey string) (CreateOrderResult, error) {
	if idemKey != "" {
		if res, ok, err := s.replay(ctx, idemKey); err != nil {
			return CreateOrderResult{}, err
		} else if ok {
			return res, nil
		}
	}

	now := s.now()
	o := domain.Order{
		ID:               domain.OrderID(s.newID()),
		CustomerID:       in.CustomerID,
		Status:           domain.OrderStatusPending,
		PaymentReference: in.PaymentReference,
		ShippingAddress:  in.ShippingAddress,
		Items:            make([]domain.OrderItem, 0, len(in.Items)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, it := range in.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ProductID: domain.ProductID(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	evt, err := s.orderCreatedEvent(o)
	if err != nil {
		return CreateOrderResult{}, err
	}

	if err := s.store.CreateOrder(ctx, o, idemKey, evt); err != nil {
		if errors.Is(err, store.ErrIdempotencyRace) && idemKey != "" {
			if res, ok, rerr := s.replay(ctx, idemKey); rerr == nil && ok {
				return res, nil
			}
		}
		return CreateOrderResult{}, fmt.Errorf("create order: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_id", string(o.ID)),
		zap.String("customer_id", o.CustomerID),
		zap.String("event_id", evt.EventID))

	return CreateOrderResult{
		OrderID: string(o.ID),
		Status:  o.Status,
		Message: createdMessage,
	}, nil
}

func (s *Service) replay(ctx context.Context, idemKey string) (CreateOrderResult, bool, error) {
	orderID, err := s.store.OrderIDByIdempotencyKey(ctx, idemKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CreateOrderResult{}, false, nil
		}
		return CreateOrderResult{}, false, err
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return CreateOrderResult{}, false, err
	}
	return CreateOrderResult{
		OrderID:  orderID,
		Status:   o.Status,
		Message:  replayedMessage,
		Replayed: true,
	}, true, nil
}

func (s *Service) orderCreatedEvent(o domain.Order) (contracts.OrderEvent, error) {
	addr, err := json.Marshal(contracts.Address{
		Street:  o.ShippingAddress.Street,
		City:    o.ShippingAddress.City,
		State:   o.ShippingAddress.State,
		ZipCode: o.ShippingAddress.ZipCode,
		Country: o.ShippingAddress.Country,
	})
	if err != nil {
		return contracts.OrderEvent{}, err
	}
	items := make([]contracts.ItemEvent, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, contracts.ItemEvent{
			ProductID: string(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return contracts.OrderEvent{
		EventID:         s.newID(),
		OrderID:         string(o.ID),
		CustomerID:      o.CustomerID,
		EventType:       contracts.EventOrderCreated,
		Items:           items,
		ShippingAddress: string(addr),
		Timestamp:       s.now().UnixMilli(),
	}, nil
}

// GetOrderDetails is the read-only projection. PENDING is a normal answer
// meaning the inventory outcome is not known yet.
func (s *Service) GetOrderDetails(ctx context.Context, orderID string) (domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}
