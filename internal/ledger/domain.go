package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates the closed set of supported stock movements.
type MovementType string

const (
	// MovementReceipt represents stock received from a purchase.
	MovementReceipt MovementType = "RECEIPT"
	// MovementConsumption represents stock consumed by production or cooking.
	MovementConsumption MovementType = "CONSUMPTION"
	// MovementAdjustment indicates a manual stock correction.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementRollback reverses an earlier movement with a new forward entry.
	MovementRollback MovementType = "ROLLBACK"
)

// Valid reports whether t belongs to the closed movement-type set.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementConsumption, MovementAdjustment, MovementRollback:
		return true
	}
	return false
}

// IntegrityStatus describes the verification state of a product chain.
type IntegrityStatus string

const (
	// StatusUnverified means the chain has never been verified.
	StatusUnverified IntegrityStatus = "UNVERIFIED"
	// StatusValid means the last verification passed.
	StatusValid IntegrityStatus = "VALID"
	// StatusCorrupted means the last verification found errors.
	StatusCorrupted IntegrityStatus = "CORRUPTED"
)

// Entry is one immutable record of a stock quantity change. Entries are
// append-only; sequence numbers per product start at 1 with no gaps.
type Entry struct {
	ID                int64
	ProductID         int64
	SequenceNumber    int64
	QuantityDelta     decimal.Decimal
	ResultingQuantity decimal.Decimal
	MovementType      MovementType
	Description       string
	PreviousHash      string
	CurrentHash       string
	RecordedAt        time.Time
	ActorID           int64
	CorrelationID     string
}

// Snapshot caches the current chain state per product so reads do not replay
// the full ledger. The snapshot is derived state; the chain is authoritative.
type Snapshot struct {
	ProductID          int64
	CurrentQuantity    decimal.Decimal
	LastHash           string
	LastSequenceNumber int64
	LastUpdated        time.Time
	IntegrityStatus    IntegrityStatus
	LastVerifiedAt     time.Time
}

// MovementInput describes a single stock movement request.
type MovementInput struct {
	ProductID     int64
	QuantityDelta decimal.Decimal
	Type          MovementType
	Description   string
	ActorID       int64
	CorrelationID string
}

// BatchItem is one line of a batch movement.
type BatchItem struct {
	ProductID     int64
	QuantityDelta decimal.Decimal
	Type          MovementType
	Description   string
}

// BatchInput describes an all-or-nothing movement across multiple products.
type BatchInput struct {
	Items         []BatchItem
	Reason        string
	ActorID       int64
	CorrelationID string
}

// VerifyResult reports the outcome of replaying one product chain.
// Corruption findings are diagnostic values, not errors: they describe the
// state of historical data rather than a failed operation.
type VerifyResult struct {
	ProductID      int64    `json:"product_id"`
	Valid          bool     `json:"valid"`
	EntriesChecked int      `json:"entries_checked"`
	Errors         []string `json:"errors,omitempty"`
}

var (
	// ErrZeroDelta indicates a movement with no quantity change.
	ErrZeroDelta = errors.New("ledger: quantity delta must be non zero")
	// ErrUnknownMovementType indicates a movement type outside the closed set.
	ErrUnknownMovementType = errors.New("ledger: unknown movement type")
	// ErrInsufficientStock indicates the movement would drive stock negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("ledger: product not found")
	// ErrSnapshotNotFound indicates no snapshot exists for the product yet.
	ErrSnapshotNotFound = errors.New("ledger: snapshot not found")
	// ErrLockUnavailable indicates the product row lock could not be acquired
	// promptly. Callers may retry with backoff.
	ErrLockUnavailable = errors.New("ledger: product lock unavailable")
	// ErrTxSerialization indicates the transaction lost a serialization
	// conflict. Transient; callers may retry.
	ErrTxSerialization = errors.New("ledger: transaction serialization conflict")
	// ErrEmptyBatch indicates a batch request without items.
	ErrEmptyBatch = errors.New("ledger: batch requires at least one item")
)

// BatchError pinpoints the item that caused a batch rejection. The whole
// batch rolls back; no entry is written for any product.
type BatchError struct {
	Index     int
	ProductID int64
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("ledger: batch rejected at item %d (product %d): %v", e.Index, e.ProductID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
