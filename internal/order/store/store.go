package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/order-outbox-lab/internal/order/domain"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
	"github.com/nazeru/order-outbox-lab/pkg/outbox"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrIdempotencyRace = errors.New("idempotency race")
)

// Store is the durable source of truth. Every multi-row write happens in one
// transaction; the outbox row rides in the same transaction as the order it
// announces.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// CreateOrder persists the order, its items, the optional idempotency-key row
// and the outbound event atomically. A duplicate idempotency key surfaces as
// ErrIdempotencyRace so the caller can replay the winner.
func (s *Store) CreateOrder(ctx context.Context, o domain.Order, idemKey string, evt contracts.OrderEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders(id, customer_id, status, reason, payment_reference,
			ship_street, ship_city, ship_state, ship_zip_code, ship_country,
			created_at, updated_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(o.ID), o.CustomerID, string(o.Status), o.Reason, o.PaymentReference,
		o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.State,
		o.ShippingAddress.ZipCode, o.ShippingAddress.Country,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, product_id, quantity, unit_price) VALUES($1, $2, $3, $4)`,
			string(o.ID), string(it.ProductID), it.Quantity, it.UnitPrice,
		)
		if err != nil {
			return err
		}
	}

	if idemKey != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES($1, $2)`,
			idemKey, string(o.ID),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrIdempotencyRace
			}
			return err
		}
	}

	if err := outbox.Insert(ctx, tx, evt.EventID, contracts.TopicOrderEvents, evt.OrderID, evt.RoutingKey(), evt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var o domain.Order
	var orderID, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, status, reason, payment_reference,
			ship_street, ship_city, ship_state, ship_zip_code, ship_country,
			created_at, updated_at
		 FROM orders WHERE id=$1`, id).Scan(
		&orderID, &o.CustomerID, &status, &o.Reason, &o.PaymentReference,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.State,
		&o.ShippingAddress.ZipCode, &o.ShippingAddress.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, ErrNotFound
		}
		return domain.Order{}, err
	}
	o.ID = domain.OrderID(orderID)
	o.Status = domain.OrderStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		var productID string
		if err := rows.Scan(&productID, &it.Quantity, &it.UnitPrice); err != nil {
			return domain.Order{}, err
		}
		it.ProductID = domain.ProductID(productID)
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// FinalizeOrder applies the terminal transition with a conditional update.
// The status guard in the WHERE clause serializes concurrent deliveries for
// one order: only the first sees an affected row, the rest absorb.
func (s *Store) FinalizeOrder(ctx context.Context, id string, status domain.OrderStatus, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status=$2, reason=$3, updated_at=now() WHERE id=$1 AND status=$4`,
		id, string(status), reason, string(domain.OrderStatusPending))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) OrderIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var orderID string
	err := s.pool.QueryRow(ctx,
		`SELECT order_id FROM order_idempotency WHERE idempotency_key=$1`, key).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return orderID, nil
}

// EventSeen reports whether an inbound event id is already in the inbox.
func (s *Store) EventSeen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM inbox WHERE event_id=$1)`, eventID).Scan(&exists)
	return exists, err
}

// MarkEventSeen records an inbound event id after it was fully processed.
// Marking after (not before) processing keeps a failed handling eligible for
// redelivery; a mark lost to a crash is harmless because the terminal-state
// guard absorbs the replay.
func (s *Store) MarkEventSeen(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inbox(event_id, received_at) VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`,
		eventID)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// fallback
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
