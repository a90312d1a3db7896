package products

import "github.com/shopspring/decimal"

type productForm struct {
	Code            string          `json:"code" validate:"required,max=64"`
	Name            string          `json:"name" validate:"required,max=255"`
	Unit            string          `json:"unit" validate:"max=32"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
	IsActive        bool            `json:"is_active"`
}
