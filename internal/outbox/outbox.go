// Package outbox implements a transactional outbox for audit events: rows are
// written in the same transaction as the business change and forwarded to the
// message queue by a separate poller, so delivery is at-least-once without
// coupling ledger correctness to broker availability.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Topic names for outbound audit events.
const (
	TopicInventoryAudit = "inventory.audit"
)

// Event is one pending outbound record.
type Event struct {
	ID        int64
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx, letting callers insert
// events inside their own transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Insert appends an event using the caller's transaction handle.
func Insert(ctx context.Context, db DBTX, evt Event) error {
	if evt.Topic == "" || evt.Key == "" {
		return errors.New("outbox: topic and key required")
	}
	_, err := db.Exec(ctx,
		`INSERT INTO audit_outbox (topic, event_key, payload, created_at) VALUES ($1, $2, $3, $4)`,
		evt.Topic, evt.Key, evt.Payload, time.Now().UTC())
	return err
}

// Store reads and removes pending events from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListOldest returns up to limit events in FIFO order.
func (s *Store) ListOldest(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, topic, event_key, payload, created_at FROM audit_outbox ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.Topic, &evt.Key, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Delete removes an event after confirmed delivery.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_outbox WHERE id = $1`, id)
	return err
}
