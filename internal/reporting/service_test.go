package reporting

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingStats struct {
	calls atomic.Int64
}

func (c *countingStats) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	c.calls.Add(1)
	return map[string]int{"PENDING": 3, "PAID": 1}, nil
}

func (c *countingStats) SumEstimatedByStatus(ctx context.Context) (map[string]string, error) {
	return map[string]string{"PENDING": "310.00", "PAID": "90.00"}, nil
}

func (c *countingStats) SumEstimatedByDepartment(ctx context.Context) ([]DepartmentTotal, error) {
	return []DepartmentTotal{{Department: "OPS", Total: "400.00", Count: 4}}, nil
}

func (c *countingStats) SumOrderedByMonth(ctx context.Context, months int) ([]MonthlyTotal, error) {
	return []MonthlyTotal{{Month: "2026-03", Total: "90.00", Count: 1}}, nil
}

func newCachedService(t *testing.T, ttl time.Duration) (*Service, *countingStats, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	stats := &countingStats{}
	return NewService(stats, client, ttl), stats, mr
}

func TestDashboardIsCached(t *testing.T) {
	svc, stats, mr := newCachedService(t, time.Minute)
	ctx := context.Background()

	first, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, first.RequestsByStatus["PENDING"])
	require.Equal(t, "90.00", first.EstimatedByStatus["PAID"])
	require.Equal(t, "OPS", first.EstimatedByDepartment[0].Department)
	require.EqualValues(t, 1, stats.calls.Load())

	// Second call is served from Redis.
	second, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, first.GeneratedAt.Unix(), second.GeneratedAt.Unix())
	require.EqualValues(t, 1, stats.calls.Load())

	// Expiry forces a recomputation.
	mr.FastForward(2 * time.Minute)
	_, err = svc.Dashboard(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.calls.Load())
}

func TestDashboardInvalidate(t *testing.T) {
	svc, stats, _ := newCachedService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx))

	_, err = svc.Dashboard(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.calls.Load())
}

func TestDashboardConcurrentMissesCollapse(t *testing.T) {
	svc, stats, _ := newCachedService(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Dashboard(context.Background())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// All misses share one computation, modulo a benign race between the
	// cache read and the singleflight join.
	require.LessOrEqual(t, stats.calls.Load(), int64(2))
}

func TestDashboardWorksWithoutCache(t *testing.T) {
	stats := &countingStats{}
	svc := NewService(stats, nil, time.Minute)

	_, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	_, err = svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.calls.Load())
}
