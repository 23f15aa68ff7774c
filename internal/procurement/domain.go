package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase request lifecycle statuses. The order of the happy path is
// PENDING → APPROVED → IN_QUOTATION → QUOTED → VENDOR_APPROVED → PURCHASED →
// INVOICE_RECEIVED → PAYMENT_RELEASED → PAID.
type RequestStatus string

const (
	RequestPending         RequestStatus = "PENDING"
	RequestApproved        RequestStatus = "APPROVED"
	RequestRejected        RequestStatus = "REJECTED"
	RequestInQuotation     RequestStatus = "IN_QUOTATION"
	RequestQuoted          RequestStatus = "QUOTED"
	RequestVendorApproved  RequestStatus = "VENDOR_APPROVED"
	RequestPurchased       RequestStatus = "PURCHASED"
	RequestInvoiceReceived RequestStatus = "INVOICE_RECEIVED"
	RequestPaymentReleased RequestStatus = "PAYMENT_RELEASED"
	RequestPaid            RequestStatus = "PAID"
	RequestCancelled       RequestStatus = "CANCELLED"
)

// requestTransitions is the allowed-transition table. Anything not listed is
// rejected with ErrInvalidTransition.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:         {RequestApproved, RequestRejected, RequestInQuotation, RequestCancelled},
	RequestApproved:        {RequestInQuotation, RequestCancelled},
	RequestInQuotation:     {RequestQuoted, RequestCancelled},
	RequestQuoted:          {RequestVendorApproved, RequestCancelled},
	RequestVendorApproved:  {RequestPurchased, RequestCancelled},
	RequestPurchased:       {RequestInvoiceReceived},
	RequestInvoiceReceived: {RequestPaymentReleased},
	RequestPaymentReleased: {RequestPaid},
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// QuoteEligible reports whether a quotation set may be opened for a request
// in this status.
func (s RequestStatus) QuoteEligible() bool {
	return s == RequestPending || s == RequestApproved || s == RequestInQuotation
}

// Quotation lifecycle statuses.
type QuotationStatus string

const (
	QuotationDraft     QuotationStatus = "DRAFT"
	QuotationReleased  QuotationStatus = "RELEASED"
	QuotationApproved  QuotationStatus = "APPROVED"
	QuotationCancelled QuotationStatus = "CANCELLED"
)

// Purchase order lifecycle statuses.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderSent      OrderStatus = "SENT"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:   {OrderSent, OrderConfirmed, OrderCancelled},
	OrderSent:      {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderCancelled},
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Concluded reports whether invoices may be created against an order in this
// status.
func (s OrderStatus) Concluded() bool {
	return s == OrderConfirmed
}

// MinimumQuotationItems is the business floor of vendor offers required
// before a quotation can be released for manager approval.
const MinimumQuotationItems = 3

// PurchaseRequest is an employee's ask to buy a product/quantity.
// RequesterDepartmentID is derived from the requester and determines which
// manager may act on the request.
type PurchaseRequest struct {
	ID                    int64
	Number                string
	RequesterID           int64
	RequesterDepartmentID int64
	ProductID             int64
	Quantity              int
	Unit                  string
	Justification         string
	EstimatedTotal        decimal.Decimal
	Status                RequestStatus
	Notes                 string
	ApprovedBy            int64
	ApprovedAt            time.Time
	RejectedBy            int64
	RejectedAt            time.Time
	RejectedReason        string
	CreatedAt             time.Time
}

// Quotation is a set of competing vendor offers collected for one request.
type Quotation struct {
	ID          int64
	RequestID   int64
	PurchaserID int64
	Status      QuotationStatus
	ReleasedAt  time.Time
	ApprovedBy  int64
	ApprovedAt  time.Time
	Notes       string
	CreatedAt   time.Time
}

// QuotationItem is one vendor's priced offer within a quotation. TotalValue
// is always recomputed server-side as UnitValue × Quantity.
type QuotationItem struct {
	ID          int64
	QuotationID int64
	VendorName  string
	VendorTaxID string
	Description string
	UnitValue   decimal.Decimal
	Quantity    int
	TotalValue  decimal.Decimal
	Selected    bool
}

// Total returns the server-side item total.
func (i QuotationItem) Total() decimal.Decimal {
	return i.UnitValue.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// PurchaseOrder is the commercial order issued to the selected vendor.
// DocumentRef points at the rendered order document; it stays empty until the
// generator succeeds.
type PurchaseOrder struct {
	ID              int64
	Number          string
	RequestID       int64
	QuotationItemID int64
	PurchaserID     int64
	DocumentRef     string
	Status          OrderStatus
	CompletedAt     time.Time
	CreatedAt       time.Time
}
