package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/numbering"
	"github.com/procurehub/procurehub/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error)
	GetItem(ctx context.Context, id int64) (QuotationItem, error)
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	SetOrderDocument(ctx context.Context, id int64, ref string) error
	ListRequests(ctx context.Context, filters RequestFilters, limit, offset int) ([]PurchaseRequest, int, error)
	ListQuotations(ctx context.Context, filters QuotationFilters, limit, offset int) ([]Quotation, int, error)
	ListOrders(ctx context.Context, filters OrderFilters, limit, offset int) ([]PurchaseOrder, int, error)
}

// CatalogPort resolves product data for request estimates.
type CatalogPort interface {
	AverageUnitValue(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// AuditPort records mutations; failures never fail the business operation.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DocumentPort renders the order document. Invoked after the order committed;
// a failure is reported, never rolled into the transaction.
type DocumentPort interface {
	Generate(ctx context.Context, order PurchaseOrder, item QuotationItem, request PurchaseRequest) (string, error)
}

// QueuePort schedules a document generation retry.
type QueuePort interface {
	EnqueueDocument(ctx context.Context, orderID int64) error
}

// Service orchestrates the request → quotation → order state machine.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
	docs    DocumentPort
	queue   QueuePort
	now     func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, catalog CatalogPort, audit AuditPort, docs DocumentPort, queue QueuePort) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit, docs: docs, queue: queue, now: time.Now}
}

// RequestFilters narrows request listings.
type RequestFilters struct {
	Status       RequestStatus
	RequesterID  int64
	DepartmentID int64
}

// QuotationFilters narrows quotation listings.
type QuotationFilters struct {
	Status       QuotationStatus
	RequestID    int64
	PurchaserID  int64
	DepartmentID int64
}

// OrderFilters narrows order listings.
type OrderFilters struct {
	Status    OrderStatus
	RequestID int64
}

// CreateRequestInput describes a new purchase request.
type CreateRequestInput struct {
	ProductID     int64
	Quantity      int
	Unit          string
	Justification string
	Notes         string
}

// ItemInput describes one vendor offer. Any client-submitted total is
// ignored; the stored total is always UnitValue × Quantity.
type ItemInput struct {
	VendorName  string
	VendorTaxID string
	Description string
	UnitValue   decimal.Decimal
	Quantity    int
}

// CreateRequest files a new purchase request in PENDING.
func (s *Service) CreateRequest(ctx context.Context, actor shared.Actor, input CreateRequestInput) (PurchaseRequest, error) {
	if !actor.Active || actor.ID == 0 {
		return PurchaseRequest{}, shared.ErrPermissionDenied
	}
	if input.ProductID == 0 || input.Quantity <= 0 {
		return PurchaseRequest{}, fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(input.Justification) == "" {
		return PurchaseRequest{}, fmt.Errorf("justification required: %w", shared.ErrValidation)
	}
	avgValue, err := s.catalog.AverageUnitValue(ctx, input.ProductID)
	if err != nil {
		return PurchaseRequest{}, err
	}
	unit := input.Unit
	if unit == "" {
		unit = "UN"
	}
	pr := PurchaseRequest{
		RequesterID:           actor.ID,
		RequesterDepartmentID: actor.DepartmentID,
		ProductID:             input.ProductID,
		Quantity:              input.Quantity,
		Unit:                  unit,
		Justification:         input.Justification,
		EstimatedTotal:        avgValue.Mul(decimal.NewFromInt(int64(input.Quantity))),
		Status:                RequestPending,
		Notes:                 input.Notes,
	}
	err = s.withConflictRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := numbering.Next(ctx, tx.DB(), numbering.SeriesRequest, s.now())
		if err != nil {
			return err
		}
		pr.Number = number
		id, err := tx.CreateRequest(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_CREATE", "purchase_requests", pr.ID, nil, map[string]any{"number": pr.Number, "status": string(pr.Status)})
	return pr, nil
}

// ApproveRequest moves a PENDING request to APPROVED. Only an active manager
// (or admin) of the requester's department may approve.
func (s *Service) ApproveRequest(ctx context.Context, actor shared.Actor, requestID int64) (PurchaseRequest, error) {
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !actor.CanApproveForDepartment(pr.RequesterDepartmentID) {
			return shared.ErrPermissionDenied
		}
		if pr.Status != RequestPending {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionRequest(ctx, requestID, RequestPending, RequestApproved); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetRequestApproval(ctx, requestID, actor.ID, now); err != nil {
			return err
		}
		pr.Status = RequestApproved
		pr.ApprovedBy = actor.ID
		pr.ApprovedAt = now
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_APPROVE", "purchase_requests", pr.ID,
		map[string]any{"status": string(RequestPending)}, map[string]any{"status": string(RequestApproved)})
	return pr, nil
}

// RejectRequest moves a PENDING request to REJECTED. The reason is mandatory.
func (s *Service) RejectRequest(ctx context.Context, actor shared.Actor, requestID int64, reason string) (PurchaseRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return PurchaseRequest{}, fmt.Errorf("rejection reason required: %w", shared.ErrValidation)
	}
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !actor.CanApproveForDepartment(pr.RequesterDepartmentID) {
			return shared.ErrPermissionDenied
		}
		if pr.Status != RequestPending {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionRequest(ctx, requestID, RequestPending, RequestRejected); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetRequestRejection(ctx, requestID, actor.ID, now, reason); err != nil {
			return err
		}
		pr.Status = RequestRejected
		pr.RejectedBy = actor.ID
		pr.RejectedAt = now
		pr.RejectedReason = reason
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_REJECT", "purchase_requests", pr.ID,
		map[string]any{"status": string(RequestPending)}, map[string]any{"status": string(RequestRejected), "reason": reason})
	return pr, nil
}

// CancelRequest cancels a request from any state the transition table allows.
// The requester, the department manager, or an admin may cancel.
func (s *Service) CancelRequest(ctx context.Context, actor shared.Actor, requestID int64) (PurchaseRequest, error) {
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !actor.Active {
			return shared.ErrPermissionDenied
		}
		if actor.ID != pr.RequesterID && !actor.CanApproveForDepartment(pr.RequesterDepartmentID) {
			return shared.ErrPermissionDenied
		}
		if !pr.Status.CanTransitionTo(RequestCancelled) {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionRequest(ctx, requestID, pr.Status, RequestCancelled); err != nil {
			return err
		}
		pr.Status = RequestCancelled
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_CANCEL", "purchase_requests", pr.ID, nil, map[string]any{"status": string(RequestCancelled)})
	return pr, nil
}

// CreateQuotation opens a DRAFT quotation set for a quote-eligible request
// and stores the initial vendor items. The request advances to IN_QUOTATION.
func (s *Service) CreateQuotation(ctx context.Context, actor shared.Actor, requestID int64, items []ItemInput) (Quotation, error) {
	if !actor.IsPurchaser() {
		return Quotation{}, shared.ErrPermissionDenied
	}
	var q Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !pr.Status.QuoteEligible() {
			return shared.ErrInvalidTransition
		}
		q = Quotation{RequestID: requestID, PurchaserID: actor.ID, Status: QuotationDraft}
		id, err := tx.CreateQuotation(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id
		if err := s.insertItems(ctx, tx, q.ID, pr, items); err != nil {
			return err
		}
		if pr.Status != RequestInQuotation {
			if err := tx.TransitionRequest(ctx, requestID, pr.Status, RequestInQuotation); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_CREATE", "quotations", q.ID, nil, map[string]any{"request_id": requestID, "items": len(items)})
	return q, nil
}

// ReplaceQuotationItems swaps the vendor offers of a DRAFT quotation.
func (s *Service) ReplaceQuotationItems(ctx context.Context, actor shared.Actor, quotationID int64, items []ItemInput) error {
	if !actor.IsPurchaser() {
		return shared.ErrPermissionDenied
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Status != QuotationDraft {
			return shared.ErrInvalidTransition
		}
		pr, err := tx.GetRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, quotationID); err != nil {
			return err
		}
		return s.insertItems(ctx, tx, quotationID, pr, items)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "QUOTATION_ITEMS_REPLACE", "quotations", quotationID, nil, map[string]any{"items": len(items)})
	return nil
}

func (s *Service) insertItems(ctx context.Context, tx TxRepository, quotationID int64, pr PurchaseRequest, items []ItemInput) error {
	for _, input := range items {
		if strings.TrimSpace(input.VendorName) == "" {
			return fmt.Errorf("vendor name required: %w", shared.ErrValidation)
		}
		if input.UnitValue.IsNegative() {
			return fmt.Errorf("unit value must not be negative: %w", shared.ErrValidation)
		}
		qty := input.Quantity
		if qty == 0 {
			qty = pr.Quantity
		}
		if qty <= 0 {
			return fmt.Errorf("item quantity must be positive: %w", shared.ErrValidation)
		}
		item := QuotationItem{
			QuotationID: quotationID,
			VendorName:  input.VendorName,
			VendorTaxID: input.VendorTaxID,
			Description: input.Description,
			UnitValue:   input.UnitValue,
			Quantity:    qty,
		}
		item.TotalValue = item.Total()
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseQuotation moves a DRAFT quotation to RELEASED so the department
// manager can pick a vendor. At least MinimumQuotationItems offers are
// required. The parent request advances to QUOTED.
func (s *Service) ReleaseQuotation(ctx context.Context, actor shared.Actor, quotationID int64) (Quotation, error) {
	if !actor.IsPurchaser() {
		return Quotation{}, shared.ErrPermissionDenied
	}
	var q Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		q, err = tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Status != QuotationDraft {
			return shared.ErrInvalidTransition
		}
		// The parent request may have moved on since the draft was opened
		// (cancelled, or quoted through a sibling quotation).
		pr, err := tx.GetRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if !pr.Status.CanTransitionTo(RequestQuoted) {
			return shared.ErrInvalidTransition
		}
		count, err := tx.CountItems(ctx, quotationID)
		if err != nil {
			return err
		}
		if count < MinimumQuotationItems {
			return fmt.Errorf("at least %d vendor offers required, have %d: %w", MinimumQuotationItems, count, shared.ErrValidation)
		}
		if err := tx.TransitionQuotation(ctx, quotationID, QuotationDraft, QuotationReleased); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetQuotationRelease(ctx, quotationID, now); err != nil {
			return err
		}
		if err := tx.TransitionRequest(ctx, q.RequestID, pr.Status, RequestQuoted); err != nil {
			return err
		}
		q.Status = QuotationReleased
		q.ReleasedAt = now
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_RELEASE", "quotations", q.ID,
		map[string]any{"status": string(QuotationDraft)}, map[string]any{"status": string(QuotationReleased)})
	return q, nil
}

// ApproveQuotation picks the winning vendor offer. Exactly one item of the
// request lineage ends up selected: all siblings are cleared and the chosen
// item set inside the same transaction, and the parent request advances to
// VENDOR_APPROVED. Only a manager of the requester's department may approve.
func (s *Service) ApproveQuotation(ctx context.Context, actor shared.Actor, quotationID, selectedItemID int64) (Quotation, error) {
	var q Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		q, err = tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		pr, err := tx.GetRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if !actor.CanApproveForDepartment(pr.RequesterDepartmentID) {
			return shared.ErrPermissionDenied
		}
		if q.Status != QuotationReleased {
			return shared.ErrInvalidTransition
		}
		item, err := tx.GetItem(ctx, selectedItemID)
		if err != nil {
			return err
		}
		if item.QuotationID != quotationID {
			return fmt.Errorf("item %d does not belong to quotation %d: %w", selectedItemID, quotationID, shared.ErrValidation)
		}
		if err := tx.ClearSelection(ctx, q.RequestID); err != nil {
			return err
		}
		if err := tx.SelectItem(ctx, selectedItemID); err != nil {
			return err
		}
		if err := tx.TransitionQuotation(ctx, quotationID, QuotationReleased, QuotationApproved); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetQuotationApproval(ctx, quotationID, actor.ID, now); err != nil {
			return err
		}
		if err := tx.TransitionRequest(ctx, q.RequestID, RequestQuoted, RequestVendorApproved); err != nil {
			return err
		}
		q.Status = QuotationApproved
		q.ApprovedBy = actor.ID
		q.ApprovedAt = now
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_APPROVE", "quotations", q.ID,
		map[string]any{"status": string(QuotationReleased)},
		map[string]any{"status": string(QuotationApproved), "selected_item_id": selectedItemID})
	return q, nil
}

// CancelQuotation cancels a DRAFT or RELEASED quotation. The parent request
// is untouched; the purchaser can open a fresh quotation set.
func (s *Service) CancelQuotation(ctx context.Context, actor shared.Actor, quotationID int64) (Quotation, error) {
	var q Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		q, err = tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		pr, err := tx.GetRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if !actor.IsPurchaser() && !actor.CanApproveForDepartment(pr.RequesterDepartmentID) {
			return shared.ErrPermissionDenied
		}
		if q.Status != QuotationDraft && q.Status != QuotationReleased {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionQuotation(ctx, quotationID, q.Status, QuotationCancelled); err != nil {
			return err
		}
		q.Status = QuotationCancelled
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_CANCEL", "quotations", q.ID, nil, map[string]any{"status": string(QuotationCancelled)})
	return q, nil
}

// DeleteQuotation removes a quotation that has no completed-workflow
// descendants: nothing selected, no purchase order referencing its items.
func (s *Service) DeleteQuotation(ctx context.Context, actor shared.Actor, quotationID int64) error {
	if !actor.IsPurchaser() {
		return shared.ErrPermissionDenied
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Status == QuotationApproved {
			return shared.ErrInvalidTransition
		}
		referenced, err := tx.QuotationHasOrder(ctx, quotationID)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("quotation referenced by a purchase order: %w", shared.ErrInvalidTransition)
		}
		return tx.DeleteQuotation(ctx, quotationID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "QUOTATION_DELETE", "quotations", quotationID, nil, nil)
	return nil
}

// CreateOrder issues the purchase order for a VENDOR_APPROVED request and
// its selected vendor item, then renders the order document. Document
// generation is best-effort: a failure after commit is reported as a
// collaborator failure and retried asynchronously, never rolled back.
func (s *Service) CreateOrder(ctx context.Context, actor shared.Actor, requestID, itemID int64) (PurchaseOrder, error) {
	if !actor.IsPurchaser() {
		return PurchaseOrder{}, shared.ErrPermissionDenied
	}
	var (
		order PurchaseOrder
		item  QuotationItem
		pr    PurchaseRequest
	)
	err := s.withConflictRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if pr.Status != RequestVendorApproved {
			return shared.ErrInvalidTransition
		}
		item, err = tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if !item.Selected {
			return fmt.Errorf("item %d is not the selected offer: %w", itemID, shared.ErrValidation)
		}
		q, err := tx.GetQuotation(ctx, item.QuotationID)
		if err != nil {
			return err
		}
		if q.RequestID != requestID {
			return fmt.Errorf("item %d does not belong to request %d: %w", itemID, requestID, shared.ErrValidation)
		}
		number, err := numbering.Next(ctx, tx.DB(), numbering.SeriesOrder, s.now())
		if err != nil {
			return err
		}
		order = PurchaseOrder{
			Number:          number,
			RequestID:       requestID,
			QuotationItemID: itemID,
			PurchaserID:     actor.ID,
			Status:          OrderCreated,
		}
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		return tx.TransitionRequest(ctx, requestID, RequestVendorApproved, RequestPurchased)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "ORDER_CREATE", "purchase_orders", order.ID, nil,
		map[string]any{"number": order.Number, "request_id": requestID, "item_id": itemID})

	ref, docErr := s.docs.Generate(ctx, order, item, pr)
	if docErr != nil {
		if s.queue != nil {
			_ = s.queue.EnqueueDocument(ctx, order.ID)
		}
		return order, fmt.Errorf("order %s committed, document generation failed: %w", order.Number, shared.ErrCollaborator)
	}
	if err := s.repo.SetOrderDocument(ctx, order.ID, ref); err != nil {
		return order, fmt.Errorf("order %s committed, document reference not stored: %w", order.Number, shared.ErrCollaborator)
	}
	order.DocumentRef = ref
	return order, nil
}

// UpdateOrderStatus moves an order within {CREATED, SENT, CONFIRMED,
// CANCELLED}. CONFIRMED stamps the completion time that gates invoicing.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor shared.Actor, orderID int64, next OrderStatus) (PurchaseOrder, error) {
	if !actor.IsPurchaser() {
		return PurchaseOrder{}, shared.ErrPermissionDenied
	}
	switch next {
	case OrderCreated, OrderSent, OrderConfirmed, OrderCancelled:
	default:
		return PurchaseOrder{}, fmt.Errorf("unknown order status %q: %w", next, shared.ErrValidation)
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionOrder(ctx, orderID, order.Status, next); err != nil {
			return err
		}
		if next == OrderConfirmed {
			now := s.now()
			if err := tx.SetOrderCompleted(ctx, orderID, now); err != nil {
				return err
			}
			order.CompletedAt = now
		}
		order.Status = next
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "ORDER_STATUS", "purchase_orders", order.ID, nil, map[string]any{"status": string(next)})
	return order, nil
}

// RegenerateDocument retries document generation for an existing order. Used
// by the background worker.
func (s *Service) RegenerateDocument(ctx context.Context, orderID int64) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DocumentRef != "" {
		return nil
	}
	item, err := s.repo.GetItem(ctx, order.QuotationItemID)
	if err != nil {
		return err
	}
	pr, err := s.repo.GetRequest(ctx, order.RequestID)
	if err != nil {
		return err
	}
	ref, err := s.docs.Generate(ctx, order, item, pr)
	if err != nil {
		return err
	}
	return s.repo.SetOrderDocument(ctx, order.ID, ref)
}

// Read-side passthroughs.

// GetRequest loads one request.
func (s *Service) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

// GetQuotation loads one quotation with its items.
func (s *Service) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error) {
	return s.repo.GetQuotation(ctx, id)
}

// GetOrder loads one order.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListRequests returns requests newest first.
func (s *Service) ListRequests(ctx context.Context, filters RequestFilters, limit, offset int) ([]PurchaseRequest, int, error) {
	return s.repo.ListRequests(ctx, filters, limit, offset)
}

// ListQuotations returns quotations newest first.
func (s *Service) ListQuotations(ctx context.Context, filters QuotationFilters, limit, offset int) ([]Quotation, int, error) {
	return s.repo.ListQuotations(ctx, filters, limit, offset)
}

// ListOrders returns orders newest first.
func (s *Service) ListOrders(ctx context.Context, filters OrderFilters, limit, offset int) ([]PurchaseOrder, int, error) {
	return s.repo.ListOrders(ctx, filters, limit, offset)
}

// withConflictRetry re-runs the transaction once when a numbering or
// double-transition race surfaces as ErrConflict.
func (s *Service) withConflictRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := s.repo.WithTx(ctx, fn)
	if errors.Is(err, shared.ErrConflict) {
		err = s.repo.WithTx(ctx, fn)
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity string, entityID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Before:   before,
		After:    after,
		At:       s.now().UTC(),
	})
}
