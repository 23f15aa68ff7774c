package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/shared"
)

// Handler exposes invoice review and payment release over JSON.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Routes mounts the finance endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Post("/{id}/approve", h.approveInvoice)
		r.Post("/{id}/reject", h.rejectInvoice)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.listPayments)
		r.Post("/", h.createPayment)
		r.Get("/{id}", h.getPayment)
		r.Post("/{id}/release", h.releasePayment)
		r.Post("/{id}/paid", h.markPaid)
		r.Post("/{id}/cancel", h.cancelPayment)
	})
}

type invoiceResponse struct {
	ID           int64  `json:"id"`
	OrderID      int64  `json:"order_id"`
	VendorNumber string `json:"vendor_number"`
	VendorTaxID  string `json:"vendor_tax_id,omitempty"`
	Amount       string `json:"amount"`
	Expected     string `json:"expected"`
	Divergence   string `json:"divergence"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
	ReviewNotes  string `json:"review_notes,omitempty"`
}

func toInvoiceResponse(inv Invoice) invoiceResponse {
	return invoiceResponse{
		ID:           inv.ID,
		OrderID:      inv.OrderID,
		VendorNumber: inv.VendorNumber,
		VendorTaxID:  inv.VendorTaxID,
		Amount:       inv.Amount.StringFixed(2),
		Expected:     inv.Expected.StringFixed(2),
		Divergence:   inv.Divergence.StringFixed(2),
		Status:       string(inv.Status),
		Notes:        inv.Notes,
		ReviewNotes:  inv.ReviewNotes,
	}
}

type paymentResponse struct {
	ID                int64  `json:"id"`
	Number            string `json:"number"`
	InvoiceID         int64  `json:"invoice_id"`
	ApprovedValue     string `json:"approved_value"`
	CostCenter        string `json:"cost_center,omitempty"`
	AccountingAccount string `json:"accounting_account,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	Status            string `json:"status"`
}

func toPaymentResponse(p PaymentRequest) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		Number:            p.Number,
		InvoiceID:         p.InvoiceID,
		ApprovedValue:     p.ApprovedValue.StringFixed(2),
		CostCenter:        p.CostCenter,
		AccountingAccount: p.AccountingAccount,
		PaymentMethod:     p.PaymentMethod,
		Status:            string(p.Status),
	}
}

type createInvoicePayload struct {
	OrderID      int64  `json:"order_id" validate:"required"`
	VendorNumber string `json:"vendor_number" validate:"required"`
	VendorTaxID  string `json:"vendor_tax_id"`
	Amount       string `json:"amount" validate:"required"`
	IssueDate    string `json:"issue_date"`
	ReceiptDate  string `json:"receipt_date"`
	Notes        string `json:"notes"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	var payload createInvoicePayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		shared.WriteError(w, fmt.Errorf("amount %q: %w", payload.Amount, shared.ErrValidation))
		return
	}
	issueDate, err := parseDate(payload.IssueDate)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	receiptDate, err := parseDate(payload.ReceiptDate)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	inv, err := h.svc.CreateInvoice(r.Context(), actor, CreateInvoiceInput{
		OrderID:      payload.OrderID,
		VendorNumber: payload.VendorNumber,
		VendorTaxID:  payload.VendorTaxID,
		Amount:       amount,
		IssueDate:    issueDate,
		ReceiptDate:  receiptDate,
		Notes:        payload.Notes,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r)
	filters := InvoiceFilters{Status: InvoiceStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("order_id"); v != "" {
		filters.OrderID, _ = strconv.ParseInt(v, 10, 64)
	}
	invoices, total, err := h.svc.ListInvoices(r.Context(), filters, perPage, (page-1)*perPage)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, toInvoiceResponse(inv))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(page, perPage, total)})
}

type notePayload struct {
	Note string `json:"note"`
}

func (h *Handler) approveInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var payload notePayload
	_ = json.NewDecoder(r.Body).Decode(&payload)
	inv, err := h.svc.ApproveInvoice(r.Context(), actor, id, payload.Note)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

type reasonPayload struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) rejectInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var payload reasonPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	inv, err := h.svc.RejectInvoice(r.Context(), actor, id, payload.Reason)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

type createPaymentPayload struct {
	InvoiceID         int64  `json:"invoice_id" validate:"required"`
	ApprovedValue     string `json:"approved_value"`
	CostCenter        string `json:"cost_center"`
	AccountingAccount string `json:"accounting_account"`
	PaymentMethod     string `json:"payment_method"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	var payload createPaymentPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	input := CreatePaymentInput{
		CostCenter:        payload.CostCenter,
		AccountingAccount: payload.AccountingAccount,
		PaymentMethod:     payload.PaymentMethod,
	}
	if payload.ApprovedValue != "" {
		approved, err := decimal.NewFromString(payload.ApprovedValue)
		if err != nil {
			shared.WriteError(w, fmt.Errorf("approved value %q: %w", payload.ApprovedValue, shared.ErrValidation))
			return
		}
		input.ApprovedValue = approved
	}
	payment, err := h.svc.CreatePaymentRequest(r.Context(), actor, payload.InvoiceID, input)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	payment, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r)
	filters := PaymentFilters{Status: PaymentStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("invoice_id"); v != "" {
		filters.InvoiceID, _ = strconv.ParseInt(v, 10, 64)
	}
	payments, total, err := h.svc.ListPayments(r.Context(), filters, perPage, (page-1)*perPage)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, toPaymentResponse(p))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(page, perPage, total)})
}

func (h *Handler) releasePayment(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, h.svc.ReleasePayment)
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, h.svc.MarkPaid)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, h.svc.CancelPayment)
}

func (h *Handler) paymentAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, actor shared.Actor, id int64) (PaymentRequest, error),
) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	payment, err := action(r.Context(), actor, id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed body: %w", shared.ErrValidation)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", err, shared.ErrValidation)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, shared.ErrValidation)
	}
	return t, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
