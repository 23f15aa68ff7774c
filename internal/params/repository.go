package params

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procurehub/procurehub/internal/shared"
)

// Repository persists system parameters in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one parameter by key.
func (r *Repository) Get(ctx context.Context, key string) (Parameter, error) {
	var (
		p           Parameter
		description *string
		updatedBy   *int64
		updatedAt   *time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT key, value, description, updated_by, updated_at
		 FROM system_parameters WHERE key = $1`, key).
		Scan(&p.Key, &p.Value, &description, &updatedBy, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Parameter{}, shared.ErrNotFound
		}
		return Parameter{}, err
	}
	if description != nil {
		p.Description = *description
	}
	if updatedBy != nil {
		p.UpdatedBy = *updatedBy
	}
	if updatedAt != nil {
		p.UpdatedAt = *updatedAt
	}
	return p, nil
}

// Upsert writes a parameter, inserting or replacing by key.
func (r *Repository) Upsert(ctx context.Context, p Parameter) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO system_parameters (key, value, description, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, description = EXCLUDED.description,
		     updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		p.Key, p.Value, p.Description, p.UpdatedBy, p.UpdatedAt)
	return err
}

// List returns all parameters ordered by key.
func (r *Repository) List(ctx context.Context) ([]Parameter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT key, value, description, updated_by, updated_at
		 FROM system_parameters ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Parameter
	for rows.Next() {
		var (
			p           Parameter
			description *string
			updatedBy   *int64
			updatedAt   *time.Time
		)
		if err := rows.Scan(&p.Key, &p.Value, &description, &updatedBy, &updatedAt); err != nil {
			return nil, err
		}
		if description != nil {
			p.Description = *description
		}
		if updatedBy != nil {
			p.UpdatedBy = *updatedBy
		}
		if updatedAt != nil {
			p.UpdatedAt = *updatedAt
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
