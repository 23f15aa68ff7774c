package params

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/procurehub/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	values map[string]Parameter
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{values: make(map[string]Parameter)}
}

func (m *memoryRepo) Get(ctx context.Context, key string) (Parameter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.values[key]
	if !ok {
		return Parameter{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) Upsert(ctx context.Context, p Parameter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[p.Key] = p
	return nil
}

func (m *memoryRepo) List(ctx context.Context) ([]Parameter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Parameter
	for _, p := range m.values {
		out = append(out, p)
	}
	return out, nil
}

var admin = shared.Actor{ID: 5, Role: shared.RoleAdmin, Active: true}

func TestDivergenceToleranceDefaultsToZero(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	tolerance, err := svc.DivergenceTolerance(context.Background())
	require.NoError(t, err)
	require.True(t, tolerance.IsZero())
}

func TestSetTolerance(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	mgr := shared.Actor{ID: 2, Role: shared.RoleManager, DepartmentID: 10, Active: true}
	err := svc.Set(ctx, mgr, KeyDivergenceTolerance, "1.50", "")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	err = svc.Set(ctx, admin, KeyDivergenceTolerance, "not-a-number", "")
	require.ErrorIs(t, err, shared.ErrValidation)

	err = svc.Set(ctx, admin, KeyDivergenceTolerance, "-1.00", "")
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, svc.Set(ctx, admin, KeyDivergenceTolerance, "1.50", "freight wiggle room"))
	tolerance, err := svc.DivergenceTolerance(ctx)
	require.NoError(t, err)
	require.True(t, tolerance.Equal(decimal.RequireFromString("1.50")))
}

func TestGetUnknownKey(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	_, err := svc.Get(context.Background(), "no.such.key")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
