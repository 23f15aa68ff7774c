package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/procurehub/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]*Product
	averages map[int64]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]*Product), averages: make(map[int64]decimal.Decimal)}
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return *p, nil
}

func (m *memoryRepo) Create(ctx context.Context, p Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.Code == p.Code {
			return 0, shared.ErrConflict
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	m.products[p.ID] = &p
	return p.ID, nil
}

func (m *memoryRepo) Update(ctx context.Context, p Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.products[p.ID]
	if !ok {
		return shared.ErrNotFound
	}
	*stored = p
	return nil
}

func (m *memoryRepo) List(ctx context.Context, activeOnly bool) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Product
	for _, p := range m.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memoryRepo) SelectedAverage(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, ok := m.averages[productID]
	return avg, ok, nil
}

var (
	purchaser = shared.Actor{ID: 4, Role: shared.RolePurchaser, Active: true}
	plainUser = shared.Actor{ID: 1, Role: shared.RoleUser, DepartmentID: 10, Active: true}
)

func TestCreateProduct(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, plainUser, ProductInput{Name: "Toner", Code: "ton-01"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	p, err := svc.CreateProduct(ctx, purchaser, ProductInput{
		Name: "Toner", Code: "ton-01", ReferenceValue: decimal.RequireFromString("120.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "TON-01", p.Code)
	require.Equal(t, "UN", p.Unit)
	require.True(t, p.Active)

	_, err = svc.CreateProduct(ctx, purchaser, ProductInput{Name: "Other", Code: "TON-01"})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAverageUnitValueFallsBackToReference(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, purchaser, ProductInput{
		Name: "Toner", Code: "TON-01", ReferenceValue: decimal.RequireFromString("120.00"),
	})
	require.NoError(t, err)

	// No purchase history yet: the catalog reference value wins.
	avg, err := svc.AverageUnitValue(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, avg.Equal(decimal.RequireFromString("120.00")))

	// With history, the winning-offer average wins.
	repo.averages[p.ID] = decimal.RequireFromString("113.40")
	avg, err = svc.AverageUnitValue(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, avg.Equal(decimal.RequireFromString("113.40")))
}

func TestAverageUnitValueRejectsInactiveProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, purchaser, ProductInput{Name: "Toner", Code: "TON-01"})
	require.NoError(t, err)
	require.NoError(t, svc.SetProductActive(ctx, purchaser, p.ID, false))

	_, err = svc.AverageUnitValue(ctx, p.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}
