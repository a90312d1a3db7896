package products

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/economato/stock-ledger/internal/platform/httpx"
)

type memoryRepo struct {
	products map[int64]Product
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product)}
}

func (r *memoryRepo) List(ctx context.Context, activeOnly bool) ([]Product, error) {
	var list []Product
	for _, p := range r.products {
		if activeOnly && !p.IsActive {
			continue
		}
		list = append(list, p)
	}
	return list, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, httpx.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) Create(ctx context.Context, product Product) (Product, error) {
	for _, existing := range r.products {
		if existing.Code == product.Code {
			return Product{}, httpx.ErrDuplicate
		}
	}
	r.nextID++
	product.ID = r.nextID
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, product Product) error {
	if _, ok := r.products[id]; !ok {
		return httpx.ErrNotFound
	}
	product.ID = id
	r.products[id] = product
	return nil
}

func TestCreateProduct(t *testing.T) {
	svc := NewService(newMemoryRepo())

	created, err := svc.Create(context.Background(), Product{
		Code: "RICE-5KG", Name: "Rice 5kg", Unit: "BAG",
		CurrentQuantity: decimal.NewFromInt(10), IsActive: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)
}

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Product{Name: "no code"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, Product{Code: "X", Name: "  "})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, Product{
		Code: "X", Name: "negative seed", CurrentQuantity: decimal.NewFromInt(-1),
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateProductDuplicateCode(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Product{Code: "RICE", Name: "Rice"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Product{Code: "RICE", Name: "Rice again"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestGetProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, Product{Code: "OIL", Name: "Cooking Oil"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "OIL", got.Code)

	_, err = svc.Get(ctx, 99)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = svc.Get(ctx, 0)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestUpdateProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, Product{Code: "OIL", Name: "Cooking Oil", IsActive: true})
	require.NoError(t, err)

	err = svc.Update(ctx, created.ID, Product{Code: "OIL", Name: "Cooking Oil 1L", IsActive: false})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Cooking Oil 1L", got.Name)
	require.False(t, got.IsActive)

	err = svc.Update(ctx, 99, Product{Code: "OIL", Name: "x"})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestListActiveOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, Product{Code: "A", Name: "Active", IsActive: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Product{Code: "B", Name: "Inactive"})
	require.NoError(t, err)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "A", active[0].Code)
}
