package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/numbering"
	"github.com/procurehub/procurehub/internal/procurement"
	"github.com/procurehub/procurehub/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	GetPayment(ctx context.Context, id int64) (PaymentRequest, error)
	ListInvoices(ctx context.Context, filters InvoiceFilters, limit, offset int) ([]Invoice, int, error)
	ListPayments(ctx context.Context, filters PaymentFilters, limit, offset int) ([]PaymentRequest, int, error)
}

// ParamsPort exposes the tunables finance depends on.
type ParamsPort interface {
	DivergenceTolerance(ctx context.Context) (decimal.Decimal, error)
}

// AuditPort records mutations; failures never fail the business operation.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates invoice review and payment release.
type Service struct {
	repo   RepositoryPort
	params ParamsPort
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs the finance service.
func NewService(repo RepositoryPort, params ParamsPort, audit AuditPort) *Service {
	return &Service{repo: repo, params: params, audit: audit, now: time.Now}
}

// InvoiceFilters narrows invoice listings.
type InvoiceFilters struct {
	Status  InvoiceStatus
	OrderID int64
}

// PaymentFilters narrows payment listings.
type PaymentFilters struct {
	Status    PaymentStatus
	InvoiceID int64
}

// CreateInvoiceInput describes a vendor invoice being recorded.
type CreateInvoiceInput struct {
	OrderID      int64
	VendorNumber string
	VendorTaxID  string
	Amount       decimal.Decimal
	IssueDate    time.Time
	ReceiptDate  time.Time
	Notes        string
}

// CreateInvoice records a vendor invoice against a confirmed order. The
// amount is compared to the ordered total; a difference beyond the
// configured tolerance lands the invoice in DIVERGENCE_DETECTED instead of
// PENDING_REVIEW. The first invoice advances the originating request to
// INVOICE_RECEIVED.
func (s *Service) CreateInvoice(ctx context.Context, actor shared.Actor, input CreateInvoiceInput) (Invoice, error) {
	if !actor.IsFinance() && !actor.IsPurchaser() {
		return Invoice{}, shared.ErrPermissionDenied
	}
	if strings.TrimSpace(input.VendorNumber) == "" {
		return Invoice{}, fmt.Errorf("vendor invoice number required: %w", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return Invoice{}, fmt.Errorf("invoice amount must be positive: %w", shared.ErrValidation)
	}
	tolerance, err := s.params.DivergenceTolerance(ctx)
	if err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.Concluded() {
			return fmt.Errorf("order %s not confirmed: %w", order.Number, shared.ErrInvalidTransition)
		}
		expected, err := tx.OrderedTotal(ctx, input.OrderID)
		if err != nil {
			return err
		}
		divergence := input.Amount.Sub(expected).Abs()
		status := InvoicePendingReview
		if divergence.GreaterThan(tolerance) {
			status = InvoiceDivergenceDetected
		}
		inv = Invoice{
			OrderID:      input.OrderID,
			VendorNumber: input.VendorNumber,
			VendorTaxID:  input.VendorTaxID,
			InformedBy:   actor.ID,
			Amount:       input.Amount,
			Expected:     expected,
			Divergence:   divergence,
			IssueDate:    input.IssueDate,
			ReceiptDate:  input.ReceiptDate,
			Status:       status,
			Notes:        input.Notes,
		}
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		pr, err := tx.GetRequest(ctx, order.RequestID)
		if err != nil {
			return err
		}
		if pr.Status == procurement.RequestPurchased {
			return tx.TransitionRequest(ctx, pr.ID, procurement.RequestPurchased, procurement.RequestInvoiceReceived)
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "INVOICE_CREATE", "invoices", inv.ID, nil,
		map[string]any{"order_id": inv.OrderID, "status": string(inv.Status), "divergence": inv.Divergence.StringFixed(2)})
	return inv, nil
}

// ApproveInvoice clears an invoice for payment. Finance may approve from
// PENDING_REVIEW directly and from DIVERGENCE_DETECTED as an explicit
// override; the override requires a note.
func (s *Service) ApproveInvoice(ctx context.Context, actor shared.Actor, invoiceID int64, note string) (Invoice, error) {
	if !actor.IsFinance() {
		return Invoice{}, shared.ErrPermissionDenied
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.CanTransitionTo(InvoiceApprovedForPayment) {
			return shared.ErrInvalidTransition
		}
		if inv.Status == InvoiceDivergenceDetected && strings.TrimSpace(note) == "" {
			return fmt.Errorf("divergence override requires a note: %w", shared.ErrValidation)
		}
		if err := tx.TransitionInvoice(ctx, invoiceID, inv.Status, InvoiceApprovedForPayment); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetInvoiceReview(ctx, invoiceID, actor.ID, now, note); err != nil {
			return err
		}
		inv.Status = InvoiceApprovedForPayment
		inv.ReviewedBy = actor.ID
		inv.ReviewedAt = now
		inv.ReviewNotes = note
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "INVOICE_APPROVE", "invoices", inv.ID, nil, map[string]any{"status": string(InvoiceApprovedForPayment)})
	return inv, nil
}

// RejectInvoice sends an invoice back to the divergence queue. The reason is
// mandatory and appended to the review trail; the invoice stays approvable
// once the discrepancy is resolved.
func (s *Service) RejectInvoice(ctx context.Context, actor shared.Actor, invoiceID int64, reason string) (Invoice, error) {
	if !actor.IsFinance() {
		return Invoice{}, shared.ErrPermissionDenied
	}
	if strings.TrimSpace(reason) == "" {
		return Invoice{}, fmt.Errorf("rejection reason required: %w", shared.ErrValidation)
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.CanTransitionTo(InvoiceDivergenceDetected) {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionInvoice(ctx, invoiceID, inv.Status, InvoiceDivergenceDetected); err != nil {
			return err
		}
		notes := reason
		if inv.ReviewNotes != "" {
			notes = inv.ReviewNotes + "\n" + reason
		}
		now := s.now()
		if err := tx.SetInvoiceReview(ctx, invoiceID, actor.ID, now, notes); err != nil {
			return err
		}
		inv.Status = InvoiceDivergenceDetected
		inv.ReviewedBy = actor.ID
		inv.ReviewedAt = now
		inv.ReviewNotes = notes
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "INVOICE_REJECT", "invoices", inv.ID, nil, map[string]any{"status": string(InvoiceDivergenceDetected), "reason": reason})
	return inv, nil
}

// CreatePaymentInput carries the treasury booking details for a new
// payment request.
type CreatePaymentInput struct {
	ApprovedValue     decimal.Decimal
	CostCenter        string
	AccountingAccount string
	PaymentMethod     string
}

// CreatePaymentRequest opens an SP-numbered payment request for an
// approved invoice. Only one payment request may exist per invoice. The
// approved value defaults to the invoice amount when omitted.
func (s *Service) CreatePaymentRequest(ctx context.Context, actor shared.Actor, invoiceID int64, input CreatePaymentInput) (PaymentRequest, error) {
	if !actor.IsFinance() {
		return PaymentRequest{}, shared.ErrPermissionDenied
	}
	if input.ApprovedValue.IsNegative() {
		return PaymentRequest{}, fmt.Errorf("approved value must not be negative: %w", shared.ErrValidation)
	}
	var payment PaymentRequest
	err := s.withConflictRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceApprovedForPayment {
			return shared.ErrInvalidTransition
		}
		exists, err := tx.InvoiceHasPayment(ctx, invoiceID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("invoice %d already has a payment request: %w", invoiceID, shared.ErrConflict)
		}
		number, err := numbering.Next(ctx, tx.DB(), numbering.SeriesPayment, s.now())
		if err != nil {
			return err
		}
		approved := input.ApprovedValue
		if approved.IsZero() {
			approved = inv.Amount
		}
		payment = PaymentRequest{
			Number:            number,
			InvoiceID:         invoiceID,
			RequestedBy:       actor.ID,
			ApprovedValue:     approved,
			CostCenter:        input.CostCenter,
			AccountingAccount: input.AccountingAccount,
			PaymentMethod:     input.PaymentMethod,
			Status:            PaymentAwaiting,
		}
		id, err := tx.CreatePayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		return nil
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	s.recordAudit(ctx, actor, "PAYMENT_CREATE", "payment_requests", payment.ID, nil,
		map[string]any{"number": payment.Number, "invoice_id": invoiceID})
	return payment, nil
}

// ReleasePayment authorizes the payout. The manager of the department that
// originated the underlying request (or an admin) releases; the lineage
// request advances to PAYMENT_RELEASED.
func (s *Service) ReleasePayment(ctx context.Context, actor shared.Actor, paymentID int64) (PaymentRequest, error) {
	var payment PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		pr, err := s.lineageRequest(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !actor.CanApproveForDepartment(pr.RequesterDepartmentID) {
			return shared.ErrPermissionDenied
		}
		if payment.Status != PaymentAwaiting {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionPayment(ctx, paymentID, PaymentAwaiting, PaymentReleased); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetPaymentRelease(ctx, paymentID, actor.ID, now); err != nil {
			return err
		}
		if err := tx.TransitionRequest(ctx, pr.ID, procurement.RequestInvoiceReceived, procurement.RequestPaymentReleased); err != nil {
			return err
		}
		payment.Status = PaymentReleased
		payment.ReleasedBy = actor.ID
		payment.ReleasedAt = now
		return nil
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	s.recordAudit(ctx, actor, "PAYMENT_RELEASE", "payment_requests", payment.ID, nil, map[string]any{"status": string(PaymentReleased)})
	return payment, nil
}

// MarkPaid settles a released payment and closes the lineage request at
// PAID, the terminal happy-path status.
func (s *Service) MarkPaid(ctx context.Context, actor shared.Actor, paymentID int64) (PaymentRequest, error) {
	if !actor.IsFinance() {
		return PaymentRequest{}, shared.ErrPermissionDenied
	}
	var payment PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != PaymentReleased {
			return shared.ErrInvalidTransition
		}
		pr, err := s.lineageRequest(ctx, tx, payment)
		if err != nil {
			return err
		}
		if err := tx.TransitionPayment(ctx, paymentID, PaymentReleased, PaymentPaid); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SetPaymentPaid(ctx, paymentID, actor.ID, now); err != nil {
			return err
		}
		if err := tx.TransitionRequest(ctx, pr.ID, procurement.RequestPaymentReleased, procurement.RequestPaid); err != nil {
			return err
		}
		payment.Status = PaymentPaid
		payment.PaidBy = actor.ID
		payment.PaidAt = now
		return nil
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	s.recordAudit(ctx, actor, "PAYMENT_PAID", "payment_requests", payment.ID, nil, map[string]any{"status": string(PaymentPaid)})
	return payment, nil
}

// CancelPayment withdraws a payment request that has not been released.
func (s *Service) CancelPayment(ctx context.Context, actor shared.Actor, paymentID int64) (PaymentRequest, error) {
	if !actor.IsFinance() {
		return PaymentRequest{}, shared.ErrPermissionDenied
	}
	var payment PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != PaymentAwaiting {
			return shared.ErrInvalidTransition
		}
		if err := tx.TransitionPayment(ctx, paymentID, PaymentAwaiting, PaymentCancelled); err != nil {
			return err
		}
		payment.Status = PaymentCancelled
		return nil
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	s.recordAudit(ctx, actor, "PAYMENT_CANCEL", "payment_requests", payment.ID, nil, map[string]any{"status": string(PaymentCancelled)})
	return payment, nil
}

// lineageRequest walks payment → invoice → order → request.
func (s *Service) lineageRequest(ctx context.Context, tx TxRepository, payment PaymentRequest) (procurement.PurchaseRequest, error) {
	inv, err := tx.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return procurement.PurchaseRequest{}, err
	}
	order, err := tx.GetOrder(ctx, inv.OrderID)
	if err != nil {
		return procurement.PurchaseRequest{}, err
	}
	return tx.GetRequest(ctx, order.RequestID)
}

// Read-side passthroughs.

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetPayment loads one payment request.
func (s *Service) GetPayment(ctx context.Context, id int64) (PaymentRequest, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListInvoices returns invoices newest first.
func (s *Service) ListInvoices(ctx context.Context, filters InvoiceFilters, limit, offset int) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, filters, limit, offset)
}

// ListPayments returns payment requests newest first.
func (s *Service) ListPayments(ctx context.Context, filters PaymentFilters, limit, offset int) ([]PaymentRequest, int, error) {
	return s.repo.ListPayments(ctx, filters, limit, offset)
}

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
