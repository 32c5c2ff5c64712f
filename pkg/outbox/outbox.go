package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one outbound event awaiting publication. Rows are drained in id
// order so events for the same order leave in the order they were written.
type Record struct {
	ID         int64           `json:"id"`
	EventID    string          `json:"event_id"`
	Topic      string          `json:"topic"`
	Key        string          `json:"key"`
	RoutingKey string          `json:"routing_key"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	SentAt     *time.Time      `json:"sent_at"`
}

// Execer lets Insert run inside the caller's transaction; both pgx.Tx and
// *pgxpool.Pool satisfy it. Inserting in the same transaction as the state
// change is the whole point of the outbox.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func Insert(ctx context.Context, db Execer, eventID, topic, key, routingKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx,
		`INSERT INTO outbox(event_id, topic, key, routing_key, payload) VALUES ($1, $2, $3, $4, $5)`,
		eventID, topic, key, routingKey, data)
	return err
}

func MarkSent(ctx context.Context, pool *pgxpool.Pool, id int64) error {
	_, err := pool.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, pool *pgxpool.Pool, limit int) ([]Record, error) {
	rows, err := pool.Query(ctx,
		`SELECT id, event_id, topic, key, routing_key, payload, created_at, sent_at
		 FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.RoutingKey, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PgSource adapts a pool to the dispatcher's Source interface.
type PgSource struct {
	Pool *pgxpool.Pool
}

func (s PgSource) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.Pool, limit)
}

func (s PgSource) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.Pool, id)
}
