package reporting

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository computes aggregates straight from the workflow tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountRequestsByStatus groups purchase requests by status.
func (r *Repository) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM purchase_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

// SumEstimatedByStatus sums request estimates per status, rendered as
// fixed-point strings.
func (r *Repository) SumEstimatedByStatus(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COALESCE(SUM(estimated_total), 0)
		 FROM purchase_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var status string
		var sum decimal.Decimal
		if err := rows.Scan(&status, &sum); err != nil {
			return nil, err
		}
		out[status] = sum.StringFixed(2)
	}
	return out, rows.Err()
}

// SumEstimatedByDepartment totals request estimates per originating
// department.
func (r *Repository) SumEstimatedByDepartment(ctx context.Context) ([]DepartmentTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.code, COALESCE(SUM(pr.estimated_total), 0), COUNT(*)
		 FROM purchase_requests pr
		 JOIN departments d ON d.id = pr.requester_department_id
		 GROUP BY d.code ORDER BY d.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DepartmentTotal
	for rows.Next() {
		var (
			dt    DepartmentTotal
			total decimal.Decimal
		)
		if err := rows.Scan(&dt.Department, &total, &dt.Count); err != nil {
			return nil, err
		}
		dt.Total = total.StringFixed(2)
		out = append(out, dt)
	}
	return out, rows.Err()
}

// SumOrderedByMonth totals the selected-offer value of issued orders per
// calendar month, newest first.
func (r *Repository) SumOrderedByMonth(ctx context.Context, months int) ([]MonthlyTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT to_char(date_trunc('month', po.created_at), 'YYYY-MM') AS month,
			COALESCE(SUM(qi.total_value), 0), COUNT(*)
		 FROM purchase_orders po
		 JOIN quotation_items qi ON qi.id = po.quotation_item_id
		 WHERE po.created_at >= date_trunc('month', now()) - make_interval(months => $1)
		 GROUP BY 1 ORDER BY 1 DESC`, months)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyTotal
	for rows.Next() {
		var (
			m     MonthlyTotal
			total decimal.Decimal
		)
		if err := rows.Scan(&m.Month, &total, &m.Count); err != nil {
			return nil, err
		}
		m.Total = total.StringFixed(2)
		out = append(out, m)
	}
	return out, rows.Err()
}
