package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, p Product) (int64, error)
	Update(ctx context.Context, p Product) error
	List(ctx context.Context, activeOnly bool) ([]Product, error)
	SelectedAverage(ctx context.Context, productID int64) (decimal.Decimal, bool, error)
}

// AuditPort records mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the product catalog and price estimates.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the catalog service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// AverageUnitValue estimates the product's unit price: the average of
// winning vendor offers when the product has purchase history, the catalog
// reference value otherwise. Inactive products cannot be requested.
func (s *Service) AverageUnitValue(ctx context.Context, productID int64) (decimal.Decimal, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !p.Active {
		return decimal.Decimal{}, fmt.Errorf("product %s is inactive: %w", p.Code, shared.ErrValidation)
	}
	avg, found, err := s.repo.SelectedAverage(ctx, productID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if found {
		return avg, nil
	}
	return p.ReferenceValue, nil
}

// ProductInput describes a catalog entry being created or updated.
type ProductInput struct {
	Name           string
	Code           string
	Description    string
	Unit           string
	ReferenceValue decimal.Decimal
}

// CreateProduct adds a catalog entry. Purchasers and admins only.
func (s *Service) CreateProduct(ctx context.Context, actor shared.Actor, input ProductInput) (Product, error) {
	if !actor.IsPurchaser() {
		return Product{}, shared.ErrPermissionDenied
	}
	name := strings.TrimSpace(input.Name)
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if name == "" || code == "" {
		return Product{}, fmt.Errorf("name and code required: %w", shared.ErrValidation)
	}
	if input.ReferenceValue.IsNegative() {
		return Product{}, fmt.Errorf("reference value must not be negative: %w", shared.ErrValidation)
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "UN"
	}
	p := Product{
		Name:           name,
		Code:           code,
		Description:    input.Description,
		Unit:           unit,
		ReferenceValue: input.ReferenceValue,
		Active:         true,
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, err
	}
	p.ID = id
	s.recordAudit(ctx, actor, "PRODUCT_CREATE", id, map[string]any{"code": code})
	return p, nil
}

// UpdateProduct saves mutable fields. Purchasers and admins only.
func (s *Service) UpdateProduct(ctx context.Context, actor shared.Actor, id int64, input ProductInput) (Product, error) {
	if !actor.IsPurchaser() {
		return Product{}, shared.ErrPermissionDenied
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		p.Name = name
	}
	if input.Description != "" {
		p.Description = input.Description
	}
	if unit := strings.TrimSpace(input.Unit); unit != "" {
		p.Unit = unit
	}
	if !input.ReferenceValue.IsZero() {
		if input.ReferenceValue.IsNegative() {
			return Product{}, fmt.Errorf("reference value must not be negative: %w", shared.ErrValidation)
		}
		p.ReferenceValue = input.ReferenceValue
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actor, "PRODUCT_UPDATE", id, map[string]any{"code": p.Code})
	return p, nil
}

// SetProductActive toggles catalog availability without deleting history.
func (s *Service) SetProductActive(ctx context.Context, actor shared.Actor, id int64, active bool) error {
	if !actor.IsPurchaser() {
		return shared.ErrPermissionDenied
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Active = active
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PRODUCT_ACTIVE", id, map[string]any{"active": active})
	return nil
}

// GetProduct loads one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// ListProducts lists the catalog; any signed-in user may read it.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "products",
		EntityID: fmt.Sprintf("%d", entityID),
		After:    after,
		At:       time.Now().UTC(),
	})
}
