package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents an inventory item. CurrentQuantity mirrors the ledger
// snapshot for convenience; the snapshot is the source of truth once a chain
// exists.
type Product struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
