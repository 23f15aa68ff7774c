// Package params stores runtime-tunable system parameters as key/value rows.
package params

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/shared"
)

// Well-known parameter keys.
const (
	KeyDivergenceTolerance = "invoice.divergence_tolerance"
)

// defaults apply when a key has never been set.
var defaults = map[string]string{
	KeyDivergenceTolerance: "0.00",
}

// Parameter is one tunable value.
type Parameter struct {
	Key         string
	Value       string
	Description string
	UpdatedBy   int64
	UpdatedAt   time.Time
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, key string) (Parameter, error)
	Upsert(ctx context.Context, p Parameter) error
	List(ctx context.Context) ([]Parameter, error)
}

// AuditPort records mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reads and writes system parameters.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the params service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// Get returns the stored value for key, or its default.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	p, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			if def, ok := defaults[key]; ok {
				return def, nil
			}
		}
		return "", err
	}
	return p.Value, nil
}

// GetDecimal parses the value for key as a fixed-point number.
func (s *Service) GetDecimal(ctx context.Context, key string) (decimal.Decimal, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parameter %s holds %q: %w", key, value, shared.ErrValidation)
	}
	return d, nil
}

// DivergenceTolerance returns the invoice divergence tolerance. Satisfies
// the finance service's parameter port.
func (s *Service) DivergenceTolerance(ctx context.Context) (decimal.Decimal, error) {
	tolerance, err := s.GetDecimal(ctx, KeyDivergenceTolerance)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if tolerance.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("tolerance must not be negative: %w", shared.ErrValidation)
	}
	return tolerance, nil
}

// Set writes a parameter. Admin only; known keys are validated.
func (s *Service) Set(ctx context.Context, actor shared.Actor, key, value, description string) error {
	if actor.Role != shared.RoleAdmin {
		return shared.ErrPermissionDenied
	}
	if key == "" {
		return fmt.Errorf("key required: %w", shared.ErrValidation)
	}
	if key == KeyDivergenceTolerance {
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("tolerance %q must be a non-negative number: %w", value, shared.ErrValidation)
		}
	}
	err := s.repo.Upsert(ctx, Parameter{
		Key:         key,
		Value:       value,
		Description: description,
		UpdatedBy:   actor.ID,
		UpdatedAt:   s.now(),
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "PARAMETER_SET",
			Entity:   "system_parameters",
			EntityID: key,
			After:    map[string]any{"value": value},
			At:       time.Now().UTC(),
		})
	}
	return nil
}

// List returns all stored parameters.
func (s *Service) List(ctx context.Context) ([]Parameter, error) {
	return s.repo.List(ctx)
}
