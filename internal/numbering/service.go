// Package numbering issues human-readable sequential document numbers in the
// shape PREFIX-YYYYMM-NNNN. The sequence restarts at 1 each month per series.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/procurehub/procurehub/internal/shared"
)

// Series identifies an independent numbering sequence.
type Series string

const (
	// SeriesRequest numbers purchase requests (RC).
	SeriesRequest Series = "RC"
	// SeriesOrder numbers purchase orders (OC).
	SeriesOrder Series = "OC"
	// SeriesPayment numbers payment requests (SP).
	SeriesPayment Series = "SP"
)

// DB is satisfied by pgx.Tx and *pgxpool.Pool. Callers pass their open
// transaction so the issued number commits together with the document row.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

// Next reserves the next number for series in the month of at.
//
// The read-max-then-insert pattern races under concurrent callers; the unique
// index on document_numbers(series, period, seq) closes it. The loser gets
// shared.ErrConflict and must retry its whole transaction once.
func Next(ctx context.Context, db DB, series Series, at time.Time) (string, error) {
	period := at.Format("200601")

	var seq int
	err := db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM document_numbers WHERE series = $1 AND period = $2`,
		string(series), period).Scan(&seq)
	if err != nil {
		return "", err
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO document_numbers (series, period, seq) VALUES ($1, $2, $3)`,
		string(series), period, seq); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("numbering: %s-%s seq %d taken: %w", series, period, seq, shared.ErrConflict)
		}
		return "", err
	}

	return Format(series, period, seq), nil
}

// Format renders the canonical document number.
func Format(series Series, period string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", series, period, seq)
}
