package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procurehub/procurehub/internal/shared"
)

// Repository persists users and departments in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, username, email, password_hash, role, department_id,
	active, last_login, created_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u            User
		email        *string
		departmentID *int64
		lastLogin    *time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Role,
		&departmentID, &u.Active, &lastLogin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	if email != nil {
		u.Email = *email
	}
	if departmentID != nil {
		u.DepartmentID = *departmentID
	}
	if lastLogin != nil {
		u.LastLogin = *lastLogin
	}
	return u, nil
}

// GetUser loads one user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByUsername loads one user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// CreateUser inserts a new user. A duplicate username maps to ErrConflict.
func (r *Repository) CreateUser(ctx context.Context, u User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, role, department_id, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now()) RETURNING id`,
		u.Username, nullString(u.Email), u.PasswordHash, string(u.Role),
		nullID(u.DepartmentID), u.Active).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("username %s taken: %w", u.Username, shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

// UpdateUser saves role, department, email and active flag.
func (r *Repository) UpdateUser(ctx context.Context, u User) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET email = $1, role = $2, department_id = $3, active = $4 WHERE id = $5`,
		nullString(u.Email), string(u.Role), nullID(u.DepartmentID), u.Active, u.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetPassword stores a new password hash.
func (r *Repository) SetPassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful sign-in.
func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login = $1 WHERE id = $2`, at, id)
	return err
}

// ListUsers returns all users, active first.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY active DESC, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const departmentColumns = `id, name, code, active, created_at`

func scanDepartment(row pgx.Row) (Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Name, &d.Code, &d.Active, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Department{}, shared.ErrNotFound
		}
		return Department{}, err
	}
	return d, nil
}

// GetDepartment loads one department.
func (r *Repository) GetDepartment(ctx context.Context, id int64) (Department, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id)
	return scanDepartment(row)
}

// CreateDepartment inserts a department. Duplicate codes map to ErrConflict.
func (r *Repository) CreateDepartment(ctx context.Context, d Department) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO departments (name, code, active, created_at)
		 VALUES ($1, $2, $3, now()) RETURNING id`,
		d.Name, d.Code, d.Active).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("department code %s taken: %w", d.Code, shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

// SetDepartmentActive toggles a department's active flag.
func (r *Repository) SetDepartmentActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE departments SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListDepartments returns all departments ordered by name.
func (r *Repository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+departmentColumns+` FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
