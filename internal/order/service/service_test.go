package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/internal/order/domain"
	"github.com/nazeru/order-outbox-lab/internal/order/store"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
)

type fakeStore struct {
	orders   map[string]domain.Order
	outbox   []contracts.OrderEvent
	idemKeys map[string]string
	inbox    map[string]bool

	failFinalize bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   map[string]domain.Order{},
		idemKeys: map[string]string{},
		inbox:    map[string]bool{},
	}
}

func (f *fakeStore) CreateOrder(ctx context.Context, o domain.Order, idemKey string, evt contracts.OrderEvent) error {
	if idemKey != "" {
		if _, ok := f.idemKeys[idemKey]; ok {
			return store.ErrIdempotencyRace
		}
		f.idemKeys[idemKey] = string(o.ID)
	}
	f.orders[string(o.ID)] = o
	f.outbox = append(f.outbox, evt)
	return nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) FinalizeOrder(ctx context.Context, id string, status domain.OrderStatus, reason string) (bool, error) {
	if f.failFinalize {
		return false, nil
	}
	o, ok := f.orders[id]
	if !ok || o.Status != domain.OrderStatusPending {
		return false, nil
	}
	o.Status = status
	o.Reason = reason
	f.orders[id] = o
	return true, nil
}

func (f *fakeStore) OrderIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	id, ok := f.idemKeys[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (f *fakeStore) EventSeen(ctx context.Context, eventID string) (bool, error) {
	return f.inbox[eventID], nil
}

func (f *fakeStore) MarkEventSeen(ctx context.Context, eventID string) error {
	f.inbox[eventID] = true
	return nil
}

func newService(fs *fakeStore) *Service {
	s := New(fs, zap.NewNop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerID: "11111111-1111-1111-1111-111111111111",
		Items:      []ItemInput{{ProductID: "P1", Quantity: 2, UnitPrice: 9.99}},
		ShippingAddress: domain.ShippingAddress{
			Street: "Av. Principal 123", City: "Quito", State: "Pichincha",
			ZipCode: "170150", Country: "EC",
		},
		PaymentReference: "REF1",
	}
}

func TestCreateOrder(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)

	res, err := svc.CreateOrder(context.Background(), validInput(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, res.Status)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, createdMessage, res.Message)

	o := fs.orders[res.OrderID]
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", o.CustomerID)
	assert.Len(t, o.Items, 1)

	require.Len(t, fs.outbox, 1)
	evt := fs.outbox[0]
	assert.Equal(t, contracts.EventOrderCreated, evt.EventType)
	assert.Equal(t, res.OrderID, evt.OrderID)
	assert.Equal(t, o.CustomerID, evt.CustomerID)
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, []contracts.ItemEvent{{ProductID: "P1", Quantity: 2, UnitPrice: 9.99}}, evt.Items)
	assert.NotZero(t, evt.Timestamp)

	var addr contracts.Address
	require.NoError(t, json.Unmarshal([]byte(evt.ShippingAddress), &addr))
	assert.Equal(t, "Quito", addr.City)
	assert.Equal(t, "EC", addr.Country)
}

func TestCreateOrderAssignsFreshIDs(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)

	a, err := svc.CreateOrder(context.Background(), validInput(), "")
	require.NoError(t, err)
	b, err := svc.CreateOrder(context.Background(), validInput(), "")
	require.NoError(t, err)

	assert.NotEqual(t, a.OrderID, b.OrderID)
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)

	first, err := svc.CreateOrder(context.Background(), validInput(), "key-1")
	require.NoError(t, err)

	second, err := svc.CreateOrder(context.Background(), validInput(), "key-1")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, fs.outbox, 1, "replay must not schedule a second event")
}

func TestCreateOrderIdempotencyRaceResolvesToWinner(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)

	first, err := svc.CreateOrder(context.Background(), validInput(), "key-1")
	require.NoError(t, err)

	// Simulate the race: the key lookup misses but the insert conflicts.
	winnerID := fs.idemKeys["key-1"]
	delete(fs.idemKeys, "key-1")
	raceStore := &racingStore{fakeStore: fs, key: "key-1", winner: winnerID}
	svc.store = raceStore

	second, err := svc.CreateOrder(context.Background(), validInput(), "key-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
}

// racingStore fails the first CreateOrder with an idempotency race and then
// exposes the winner's key mapping, like a concurrent replica winning the
// unique-index insert.
type racingStore struct {
	*fakeStore
	key    string
	winner string
}

func (r *racingStore) CreateOrder(ctx context.Context, o domain.Order, idemKey string, evt contracts.OrderEvent) error {
	r.idemKeys[r.key] = r.winner
	return store.ErrIdempotencyRace
}

func TestGetOrderDetails(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs)

	res, err := svc.CreateOrder(context.Background(), validInput(), "")
	require.NoError(t, err)

	o, err := svc.GetOrderDetails(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	_, err = svc.GetOrderDetails(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
