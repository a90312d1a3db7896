package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/economato/stock-ledger/internal/outbox"
)

// TxStore exposes the mutations available inside one append transaction.
// Implementations must hold every write until the transaction commits.
type TxStore interface {
	// LockProduct takes the exclusive row lock on the product and returns its
	// mirrored current quantity, used to seed a lazily created snapshot.
	// Returns ErrProductNotFound or ErrLockUnavailable.
	LockProduct(ctx context.Context, productID int64) (decimal.Decimal, error)
	// GetSnapshot loads the product snapshot, ErrSnapshotNotFound when absent.
	GetSnapshot(ctx context.Context, productID int64) (Snapshot, error)
	// SaveSnapshot upserts the snapshot row.
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// InsertEntry appends one immutable ledger entry and returns its id.
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	// MirrorProductStock keeps the product's convenience quantity column in
	// sync with the snapshot.
	MirrorProductStock(ctx context.Context, productID int64, quantity decimal.Decimal) error
	// AppendAuditEvent stages an outbox event in the same transaction.
	AppendAuditEvent(ctx context.Context, evt outbox.Event) error
	// DeleteEntries removes every entry of the product chain (admin reset).
	DeleteEntries(ctx context.Context, productID int64) (int64, error)
	// DeleteSnapshot removes the product snapshot (admin reset).
	DeleteSnapshot(ctx context.Context, productID int64) error
}

// Store is the narrow persistence contract the orchestrator and verifier
// depend on, keeping the hash-chain logic storage agnostic.
type Store interface {
	// WithTx runs fn inside a serializable transaction; any error rolls back
	// every staged write.
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	// ListEntries returns the full chain ordered by sequence number.
	ListEntries(ctx context.Context, productID int64) ([]Entry, error)
	// GetSnapshot loads a committed snapshot without locking.
	GetSnapshot(ctx context.Context, productID int64) (Snapshot, error)
	// ListSnapshots returns every known snapshot.
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	// UpdateIntegrity persists a verification outcome onto the snapshot,
	// touching only the integrity fields.
	UpdateIntegrity(ctx context.Context, productID int64, status IntegrityStatus, verifiedAt time.Time) error
}
