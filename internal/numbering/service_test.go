package numbering

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/procurehub/internal/shared"
)

// memoryNumberDB mimics the document_numbers table with its unique index.
type memoryNumberDB struct {
	mu     sync.Mutex
	issued map[string]bool
	// stale forces the next MAX read to lag behind reality, reproducing the
	// read-max race between two concurrent transactions.
	stale int
}

func newMemoryNumberDB() *memoryNumberDB {
	return &memoryNumberDB{issued: make(map[string]bool)}
}

type scanRow struct {
	value int
	err   error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int); ok {
		*p = r.value
	}
	return nil
}

func (db *memoryNumberDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	series, period := args[0].(string), args[1].(string)
	max := 0
	for key := range db.issued {
		var s, p string
		var seq int
		parts := strings.Split(key, "|")
		s, p = parts[0], parts[1]
		if s == series && p == period {
			seq = atoi(parts[2])
			if seq > max {
				max = seq
			}
		}
	}
	next := max + 1 - db.stale
	if next < 1 {
		next = 1
	}
	db.stale = 0
	return scanRow{value: next}
}

func (db *memoryNumberDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := args[0].(string) + "|" + args[1].(string) + "|" + itoa(args[2].(int))
	if db.issued[key] {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
	}
	db.issued[key] = true
	return pgconn.CommandTag{}, nil
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestNextStartsAtOneAndIncrements(t *testing.T) {
	db := newMemoryNumberDB()
	ctx := context.Background()
	at := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

	first, err := Next(ctx, db, SeriesRequest, at)
	require.NoError(t, err)
	require.Equal(t, "RC-202603-0001", first)

	second, err := Next(ctx, db, SeriesRequest, at)
	require.NoError(t, err)
	require.Equal(t, "RC-202603-0002", second)
}

func TestNextResetsPerPeriodAndSeries(t *testing.T) {
	db := newMemoryNumberDB()
	ctx := context.Background()

	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	n1, err := Next(ctx, db, SeriesRequest, march)
	require.NoError(t, err)
	require.Equal(t, "RC-202603-0001", n1)

	n2, err := Next(ctx, db, SeriesRequest, april)
	require.NoError(t, err)
	require.Equal(t, "RC-202604-0001", n2)

	n3, err := Next(ctx, db, SeriesPayment, march)
	require.NoError(t, err)
	require.Equal(t, "SP-202603-0001", n3)
}

func TestNextMapsUniqueViolationToConflict(t *testing.T) {
	db := newMemoryNumberDB()
	ctx := context.Background()
	at := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	_, err := Next(ctx, db, SeriesOrder, at)
	require.NoError(t, err)

	// A stale MAX read makes the insert collide with seq 1.
	db.stale = 1
	_, err = Next(ctx, db, SeriesOrder, at)
	require.Error(t, err)
	require.True(t, errors.Is(err, shared.ErrConflict))
}

func TestNextConcurrentIssuanceYieldsDistinctNumbers(t *testing.T) {
	db := newMemoryNumberDB()
	at := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	const n = 32
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				num, err := Next(context.Background(), db, SeriesRequest, at)
				if errors.Is(err, shared.ErrConflict) {
					continue
				}
				require.NoError(t, err)
				results <- num
				return
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for num := range results {
		require.False(t, seen[num], "duplicate number issued: %s", num)
		seen[num] = true
	}
	require.Len(t, seen, n)
}
