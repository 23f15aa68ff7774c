// Package reporting aggregates workflow totals for dashboards. Results are
// cached in Redis; concurrent cache misses for the same key collapse into a
// single database query.
package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StatsPort supplies the raw aggregates.
type StatsPort interface {
	CountRequestsByStatus(ctx context.Context) (map[string]int, error)
	SumEstimatedByStatus(ctx context.Context) (map[string]string, error)
	SumEstimatedByDepartment(ctx context.Context) ([]DepartmentTotal, error)
	SumOrderedByMonth(ctx context.Context, months int) ([]MonthlyTotal, error)
}

// MonthlyTotal is the ordered volume of one calendar month.
type MonthlyTotal struct {
	Month string `json:"month"`
	Total string `json:"total"`
	Count int    `json:"count"`
}

// DepartmentTotal is the requested volume of one department.
type DepartmentTotal struct {
	Department string `json:"department"`
	Total      string `json:"total"`
	Count      int    `json:"count"`
}

// Dashboard is the aggregate snapshot served to clients.
type Dashboard struct {
	RequestsByStatus      map[string]int    `json:"requests_by_status"`
	EstimatedByStatus     map[string]string `json:"estimated_by_status"`
	EstimatedByDepartment []DepartmentTotal `json:"estimated_by_department"`
	OrderedByMonth        []MonthlyTotal    `json:"ordered_by_month"`
	GeneratedAt           time.Time         `json:"generated_at"`
}

// Service computes and caches dashboard aggregates.
type Service struct {
	stats StatsPort
	cache *redis.Client
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
}

const dashboardKey = "reporting:dashboard"

// NewService constructs the reporting service. cache may be nil, which
// disables caching.
func NewService(stats StatsPort, cache *redis.Client, ttl time.Duration) *Service {
	return &Service{stats: stats, cache: cache, ttl: ttl, now: time.Now}
}

// Dashboard returns the cached snapshot, computing it on a miss. A stale
// cache read error falls through to a fresh computation.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	if s.cache != nil {
		payload, err := s.cache.Get(ctx, dashboardKey).Bytes()
		if err == nil {
			var d Dashboard
			if err := json.Unmarshal(payload, &d); err == nil {
				return d, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			// Redis being down must not take the dashboard down.
			return s.compute(ctx)
		}
	}

	v, err, _ := s.group.Do(dashboardKey, func() (any, error) {
		d, err := s.compute(ctx)
		if err != nil {
			return Dashboard{}, err
		}
		if s.cache != nil {
			if payload, err := json.Marshal(d); err == nil {
				_ = s.cache.Set(ctx, dashboardKey, payload, s.ttl).Err()
			}
		}
		return d, nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	return v.(Dashboard), nil
}

// Invalidate drops the cached snapshot. Called after bulk mutations such as
// legacy status migration.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	err := s.cache.Del(ctx, dashboardKey).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (s *Service) compute(ctx context.Context) (Dashboard, error) {
	counts, err := s.stats.CountRequestsByStatus(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	sums, err := s.stats.SumEstimatedByStatus(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	departments, err := s.stats.SumEstimatedByDepartment(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	monthly, err := s.stats.SumOrderedByMonth(ctx, 12)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{
		RequestsByStatus:      counts,
		EstimatedByStatus:     sums,
		EstimatedByDepartment: departments,
		OrderedByMonth:        monthly,
		GeneratedAt:           s.now().UTC(),
	}, nil
}
