package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/economato/stock-ledger/internal/outbox"
	"github.com/economato/stock-ledger/internal/platform/db"
)

// PostgreSQL error codes translated into domain sentinels.
const (
	pgCodeLockNotAvailable     = "55P03"
	pgCodeSerializationFailure = "40001"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	tx pgx.Tx
}

// WithTx runs fn inside a serializable transaction. The exclusive product row
// lock is the primary correctness mechanism; serializable isolation keeps
// lock-free reads of the snapshot and product mirror from going stale.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithTx(ctx, r.pool, pgx.Serializable, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
	if err != nil {
		return translatePgError(err)
	}
	return nil
}

func (s *txStore) LockProduct(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var raw string
	err := s.tx.QueryRow(ctx,
		`SELECT current_quantity::text FROM products WHERE id = $1 FOR UPDATE NOWAIT`, productID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrProductNotFound
		}
		return decimal.Zero, translatePgError(err)
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: parse product quantity: %w", err)
	}
	return qty, nil
}

const snapshotColumns = `product_id, current_quantity::text, last_hash, last_sequence_number, last_updated, integrity_status, last_verified_at`

func (s *txStore) GetSnapshot(ctx context.Context, productID int64) (Snapshot, error) {
	row := s.tx.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM stock_snapshots WHERE product_id = $1`, productID)
	return scanSnapshot(row)
}

func (s *txStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO stock_snapshots (product_id, current_quantity, last_hash, last_sequence_number, last_updated, integrity_status, last_verified_at)
VALUES ($1, $2::numeric, $3, $4, $5, $6, $7)
ON CONFLICT (product_id) DO UPDATE SET
  current_quantity = EXCLUDED.current_quantity,
  last_hash = EXCLUDED.last_hash,
  last_sequence_number = EXCLUDED.last_sequence_number,
  last_updated = EXCLUDED.last_updated,
  integrity_status = EXCLUDED.integrity_status`,
		snap.ProductID,
		snap.CurrentQuantity.StringFixed(quantityScale),
		snap.LastHash,
		snap.LastSequenceNumber,
		snap.LastUpdated,
		string(snap.IntegrityStatus),
		nullableTime(snap.LastVerifiedAt),
	)
	return err
}

func (s *txStore) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `
INSERT INTO stock_ledger (product_id, sequence_number, quantity_delta, resulting_quantity, movement_type, description, previous_hash, current_hash, recorded_at, actor_id, correlation_id)
VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, NULLIF($10, 0), NULLIF($11, ''))
RETURNING id`,
		entry.ProductID,
		entry.SequenceNumber,
		entry.QuantityDelta.StringFixed(quantityScale),
		entry.ResultingQuantity.StringFixed(quantityScale),
		string(entry.MovementType),
		entry.Description,
		entry.PreviousHash,
		entry.CurrentHash,
		entry.RecordedAt,
		entry.ActorID,
		entry.CorrelationID,
	).Scan(&id)
	if err != nil {
		return 0, translatePgError(err)
	}
	return id, nil
}

func (s *txStore) MirrorProductStock(ctx context.Context, productID int64, quantity decimal.Decimal) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE products SET current_quantity = $1::numeric, updated_at = NOW() WHERE id = $2`,
		quantity.StringFixed(quantityScale), productID)
	return err
}

func (s *txStore) AppendAuditEvent(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, s.tx, evt)
}

func (s *txStore) DeleteEntries(ctx context.Context, productID int64) (int64, error) {
	tag, err := s.tx.Exec(ctx, `DELETE FROM stock_ledger WHERE product_id = $1`, productID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *txStore) DeleteSnapshot(ctx context.Context, productID int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM stock_snapshots WHERE product_id = $1`, productID)
	return err
}

const entryColumns = `id, product_id, sequence_number, quantity_delta::text, resulting_quantity::text, movement_type, COALESCE(description, ''), previous_hash, current_hash, recorded_at, COALESCE(actor_id, 0), COALESCE(correlation_id, '')`

func (r *Repository) ListEntries(ctx context.Context, productID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM stock_ledger WHERE product_id = $1 ORDER BY sequence_number`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *Repository) GetSnapshot(ctx context.Context, productID int64) (Snapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM stock_snapshots WHERE product_id = $1`, productID)
	return scanSnapshot(row)
}

func (r *Repository) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM stock_snapshots ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (r *Repository) UpdateIntegrity(ctx context.Context, productID int64, status IntegrityStatus, verifiedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE stock_snapshots SET integrity_status = $1, last_verified_at = $2 WHERE product_id = $3`,
		string(status), verifiedAt, productID)
	return err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry        Entry
		deltaRaw     string
		resultingRaw string
		movementType string
	)
	err := row.Scan(&entry.ID, &entry.ProductID, &entry.SequenceNumber, &deltaRaw, &resultingRaw,
		&movementType, &entry.Description, &entry.PreviousHash, &entry.CurrentHash,
		&entry.RecordedAt, &entry.ActorID, &entry.CorrelationID)
	if err != nil {
		return Entry{}, err
	}
	entry.MovementType = MovementType(movementType)
	if entry.QuantityDelta, err = decimal.NewFromString(deltaRaw); err != nil {
		return Entry{}, fmt.Errorf("ledger: parse quantity delta: %w", err)
	}
	if entry.ResultingQuantity, err = decimal.NewFromString(resultingRaw); err != nil {
		return Entry{}, fmt.Errorf("ledger: parse resulting quantity: %w", err)
	}
	return entry, nil
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		snap       Snapshot
		qtyRaw     string
		status     string
		verifiedAt *time.Time
	)
	err := row.Scan(&snap.ProductID, &qtyRaw, &snap.LastHash, &snap.LastSequenceNumber,
		&snap.LastUpdated, &status, &verifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, err
	}
	snap.IntegrityStatus = IntegrityStatus(status)
	if verifiedAt != nil {
		snap.LastVerifiedAt = *verifiedAt
	}
	if snap.CurrentQuantity, err = decimal.NewFromString(qtyRaw); err != nil {
		return Snapshot{}, fmt.Errorf("ledger: parse snapshot quantity: %w", err)
	}
	return snap, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// translatePgError maps transient PostgreSQL failures onto domain sentinels
// the retry wrapper understands.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCodeLockNotAvailable:
			return ErrLockUnavailable
		case pgCodeSerializationFailure:
			return ErrTxSerialization
		}
	}
	return err
}
