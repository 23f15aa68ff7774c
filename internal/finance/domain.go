package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice review statuses. A freshly recorded invoice lands in
// PENDING_REVIEW, or in DIVERGENCE_DETECTED when its amount strays from the
// ordered total beyond the configured tolerance.
type InvoiceStatus string

const (
	InvoicePendingReview      InvoiceStatus = "PENDING_REVIEW"
	InvoiceDivergenceDetected InvoiceStatus = "DIVERGENCE_DETECTED"
	InvoiceApprovedForPayment InvoiceStatus = "APPROVED_FOR_PAYMENT"
)

// Rejecting an invoice parks it in DIVERGENCE_DETECTED with the reviewer's
// notes; it stays re-approvable after the discrepancy is sorted out.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePendingReview:      {InvoiceApprovedForPayment, InvoiceDivergenceDetected},
	InvoiceDivergenceDetected: {InvoiceApprovedForPayment, InvoiceDivergenceDetected},
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment request lifecycle statuses.
type PaymentStatus string

const (
	PaymentAwaiting  PaymentStatus = "AWAITING_PAYMENT"
	PaymentReleased  PaymentStatus = "RELEASED"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentAwaiting: {PaymentReleased, PaymentCancelled},
	PaymentReleased: {PaymentPaid},
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Invoice is a vendor invoice recorded against a confirmed purchase order.
// Divergence is |Amount − ordered total|, stored at recording time.
type Invoice struct {
	ID           int64
	OrderID      int64
	VendorNumber string
	VendorTaxID  string
	InformedBy   int64
	Amount       decimal.Decimal
	Expected     decimal.Decimal
	Divergence   decimal.Decimal
	IssueDate    time.Time
	ReceiptDate  time.Time
	Status       InvoiceStatus
	Notes        string
	ReviewedBy   int64
	ReviewedAt   time.Time
	ReviewNotes  string
	CreatedAt    time.Time
}

// PaymentRequest asks treasury to pay an approved invoice. At most one
// active payment request exists per invoice.
type PaymentRequest struct {
	ID                int64
	Number            string
	InvoiceID         int64
	RequestedBy       int64
	ApprovedValue     decimal.Decimal
	CostCenter        string
	AccountingAccount string
	PaymentMethod     string
	Status            PaymentStatus
	ReleasedBy        int64
	ReleasedAt        time.Time
	PaidBy            int64
	PaidAt            time.Time
	CreatedAt         time.Time
}
