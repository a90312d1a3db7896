package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type movementRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	MovementType  string          `json:"movement_type" validate:"required"`
	Description   string          `json:"description" validate:"max=500"`
	CorrelationID string          `json:"correlation_id" validate:"omitempty,uuid"`
}

type batchItemRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	MovementType  string          `json:"movement_type" validate:"required"`
	Description   string          `json:"description" validate:"max=500"`
}

type batchRequest struct {
	Movements     []batchItemRequest `json:"movements" validate:"required,min=1,dive"`
	Reason        string             `json:"reason" validate:"max=1000"`
	CorrelationID string             `json:"correlation_id" validate:"omitempty,uuid"`
}

type entryResponse struct {
	ID                int64     `json:"id"`
	ProductID         int64     `json:"product_id"`
	SequenceNumber    int64     `json:"sequence_number"`
	QuantityDelta     string    `json:"quantity_delta"`
	ResultingQuantity string    `json:"resulting_quantity"`
	MovementType      string    `json:"movement_type"`
	Description       string    `json:"description,omitempty"`
	PreviousHash      string    `json:"previous_hash"`
	CurrentHash       string    `json:"current_hash"`
	RecordedAt        time.Time `json:"recorded_at"`
	ActorID           int64     `json:"actor_id,omitempty"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
}

type snapshotResponse struct {
	ProductID          int64      `json:"product_id"`
	CurrentQuantity    string     `json:"current_quantity"`
	LastHash           string     `json:"last_hash"`
	LastSequenceNumber int64      `json:"last_sequence_number"`
	LastUpdated        time.Time  `json:"last_updated"`
	IntegrityStatus    string     `json:"integrity_status"`
	LastVerifiedAt     *time.Time `json:"last_verified_at,omitempty"`
}

type resetResponse struct {
	ProductID      int64  `json:"product_id"`
	EntriesDropped int64  `json:"entries_dropped"`
	Message        string `json:"message"`
}

func toEntryResponse(entry Entry) entryResponse {
	return entryResponse{
		ID:                entry.ID,
		ProductID:         entry.ProductID,
		SequenceNumber:    entry.SequenceNumber,
		QuantityDelta:     entry.QuantityDelta.StringFixed(quantityScale),
		ResultingQuantity: entry.ResultingQuantity.StringFixed(quantityScale),
		MovementType:      string(entry.MovementType),
		Description:       entry.Description,
		PreviousHash:      entry.PreviousHash,
		CurrentHash:       entry.CurrentHash,
		RecordedAt:        entry.RecordedAt,
		ActorID:           entry.ActorID,
		CorrelationID:     entry.CorrelationID,
	}
}

func toEntryResponses(entries []Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryResponse(entry))
	}
	return out
}

func toSnapshotResponse(snap Snapshot) snapshotResponse {
	resp := snapshotResponse{
		ProductID:          snap.ProductID,
		CurrentQuantity:    snap.CurrentQuantity.StringFixed(quantityScale),
		LastHash:           snap.LastHash,
		LastSequenceNumber: snap.LastSequenceNumber,
		LastUpdated:        snap.LastUpdated,
		IntegrityStatus:    string(snap.IntegrityStatus),
	}
	if !snap.LastVerifiedAt.IsZero() {
		verifiedAt := snap.LastVerifiedAt
		resp.LastVerifiedAt = &verifiedAt
	}
	return resp
}
