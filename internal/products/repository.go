package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/economato/stock-ledger/internal/platform/httpx"
)

// Repository persists products in PostgreSQL.
type Repository interface {
	List(ctx context.Context, activeOnly bool) ([]Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, code, name, unit, current_quantity::text, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, httpx.ErrNotFound
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
INSERT INTO products (code, name, unit, current_quantity, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $6)
RETURNING id`,
		product.Code, product.Name, product.Unit,
		product.CurrentQuantity.StringFixed(3), product.IsActive, now,
	).Scan(&product.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, fmt.Errorf("%w: code %s", httpx.ErrDuplicate, product.Code)
		}
		return Product{}, err
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE products SET code = $1, name = $2, unit = $3, is_active = $4, updated_at = NOW()
WHERE id = $5`,
		product.Code, product.Name, product.Unit, product.IsActive, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		qtyRaw string
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &qtyRaw, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if p.CurrentQuantity, err = decimal.NewFromString(qtyRaw); err != nil {
		return Product{}, fmt.Errorf("products: parse quantity: %w", err)
	}
	return p, nil
}
