package ledger

import "time"

// MovementRecordedEvent is the audit payload emitted after a committed append.
type MovementRecordedEvent struct {
	ProductID         int64     `json:"product_id"`
	SequenceNumber    int64     `json:"sequence_number"`
	QuantityDelta     string    `json:"quantity_delta"`
	ResultingQuantity string    `json:"resulting_quantity"`
	MovementType      string    `json:"movement_type"`
	Description       string    `json:"description,omitempty"`
	CurrentHash       string    `json:"current_hash"`
	RecordedAt        time.Time `json:"recorded_at"`
	ActorID           int64     `json:"actor_id,omitempty"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
}

// LedgerResetEvent is the audit payload emitted when an admin wipes a chain.
type LedgerResetEvent struct {
	ProductID      int64     `json:"product_id"`
	EntriesDropped int64     `json:"entries_dropped"`
	ActorID        int64     `json:"actor_id,omitempty"`
	ResetAt        time.Time `json:"reset_at"`
}
