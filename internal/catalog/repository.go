package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/shared"
)

// Repository persists catalog products in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, code, description, unit, reference_value, active, created_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p           Product
		description *string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Code, &description, &p.Unit,
		&p.ReferenceValue, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	if description != nil {
		p.Description = *description
	}
	return p, nil
}

// Get loads one product.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// Create inserts a product. Duplicate codes map to ErrConflict.
func (r *Repository) Create(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, code, description, unit, reference_value, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now()) RETURNING id`,
		p.Name, p.Code, nullString(p.Description), p.Unit, p.ReferenceValue, p.Active).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("product code %s taken: %w", p.Code, shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

// Update saves mutable product fields.
func (r *Repository) Update(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET name = $1, description = $2, unit = $3, reference_value = $4, active = $5
		 WHERE id = $6`,
		p.Name, nullString(p.Description), p.Unit, p.ReferenceValue, p.Active, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns products, optionally only active ones.
func (r *Repository) List(ctx context.Context, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SelectedAverage returns the average unit value of winning vendor offers
// for the product across past requests. found is false when the product has
// no purchase history yet.
func (r *Repository) SelectedAverage(ctx context.Context, productID int64) (avg decimal.Decimal, found bool, err error) {
	var value *decimal.Decimal
	err = r.pool.QueryRow(ctx,
		`SELECT AVG(qi.unit_value)
		 FROM quotation_items qi
		 JOIN quotations q ON q.id = qi.quotation_id
		 JOIN purchase_requests pr ON pr.id = q.request_id
		 WHERE qi.selected AND pr.product_id = $1`, productID).Scan(&value)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	if value == nil {
		return decimal.Decimal{}, false, nil
	}
	return *value, true, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
