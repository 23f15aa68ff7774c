package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/shared"
)

// Handler exposes the procurement workflow over JSON.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Routes mounts the procurement endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.listRequests)
		r.Post("/", h.createRequest)
		r.Get("/{id}", h.getRequest)
		r.Post("/{id}/approve", h.approveRequest)
		r.Post("/{id}/reject", h.rejectRequest)
		r.Post("/{id}/cancel", h.cancelRequest)
	})
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.listQuotations)
		r.Post("/", h.createQuotation)
		r.Get("/{id}", h.getQuotation)
		r.Put("/{id}/items", h.replaceItems)
		r.Post("/{id}/release", h.releaseQuotation)
		r.Post("/{id}/approve", h.approveQuotation)
		r.Post("/{id}/cancel", h.cancelQuotation)
		r.Delete("/{id}", h.deleteQuotation)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/status", h.updateOrderStatus)
	})
}

type requestResponse struct {
	ID             int64  `json:"id"`
	Number         string `json:"number"`
	RequesterID    int64  `json:"requester_id"`
	DepartmentID   int64  `json:"department_id"`
	ProductID      int64  `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Unit           string `json:"unit"`
	Justification  string `json:"justification"`
	EstimatedTotal string `json:"estimated_total"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	RejectedReason string `json:"rejected_reason,omitempty"`
}

func toRequestResponse(pr PurchaseRequest) requestResponse {
	return requestResponse{
		ID:             pr.ID,
		Number:         pr.Number,
		RequesterID:    pr.RequesterID,
		DepartmentID:   pr.RequesterDepartmentID,
		ProductID:      pr.ProductID,
		Quantity:       pr.Quantity,
		Unit:           pr.Unit,
		Justification:  pr.Justification,
		EstimatedTotal: pr.EstimatedTotal.StringFixed(2),
		Status:         string(pr.Status),
		Notes:          pr.Notes,
		RejectedReason: pr.RejectedReason,
	}
}

type quotationResponse struct {
	ID          int64          `json:"id"`
	RequestID   int64          `json:"request_id"`
	PurchaserID int64          `json:"purchaser_id"`
	Status      string         `json:"status"`
	Items       []itemResponse `json:"items,omitempty"`
}

type itemResponse struct {
	ID          int64  `json:"id"`
	VendorName  string `json:"vendor_name"`
	VendorTaxID string `json:"vendor_tax_id,omitempty"`
	Description string `json:"description,omitempty"`
	UnitValue   string `json:"unit_value"`
	Quantity    int    `json:"quantity"`
	TotalValue  string `json:"total_value"`
	Selected    bool   `json:"selected"`
}

func toQuotationResponse(q Quotation, items []QuotationItem) quotationResponse {
	resp := quotationResponse{
		ID:          q.ID,
		RequestID:   q.RequestID,
		PurchaserID: q.PurchaserID,
		Status:      string(q.Status),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, itemResponse{
			ID:          item.ID,
			VendorName:  item.VendorName,
			VendorTaxID: item.VendorTaxID,
			Description: item.Description,
			UnitValue:   item.UnitValue.StringFixed(2),
			Quantity:    item.Quantity,
			TotalValue:  item.TotalValue.StringFixed(2),
			Selected:    item.Selected,
		})
	}
	return resp
}

type orderResponse struct {
	ID              int64  `json:"id"`
	Number          string `json:"number"`
	RequestID       int64  `json:"request_id"`
	QuotationItemID int64  `json:"quotation_item_id"`
	Status          string `json:"status"`
	DocumentRef     string `json:"document_ref,omitempty"`
}

func toOrderResponse(o PurchaseOrder) orderResponse {
	return orderResponse{
		ID:              o.ID,
		Number:          o.Number,
		RequestID:       o.RequestID,
		QuotationItemID: o.QuotationItemID,
		Status:          string(o.Status),
		DocumentRef:     o.DocumentRef,
	}
}

type createRequestPayload struct {
	ProductID     int64  `json:"product_id" validate:"required"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
	Unit          string `json:"unit"`
	Justification string `json:"justification" validate:"required"`
	Notes         string `json:"notes"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	var payload createRequestPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	pr, err := h.svc.CreateRequest(r.Context(), actor, CreateRequestInput{
		ProductID:     payload.ProductID,
		Quantity:      payload.Quantity,
		Unit:          payload.Unit,
		Justification: payload.Justification,
		Notes:         payload.Notes,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toRequestResponse(pr))
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	pr, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(pr))
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r)
	filters := RequestFilters{Status: RequestStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("department_id"); v != "" {
		filters.DepartmentID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("requester_id"); v != "" {
		filters.RequesterID, _ = strconv.ParseInt(v, 10, 64)
	}
	requests, total, err := h.svc.ListRequests(r.Context(), filters, perPage, (page-1)*perPage)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]requestResponse, 0, len(requests))
	for _, pr := range requests {
		items = append(items, toRequestResponse(pr))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(page, perPage, total)})
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	h.requestAction(w, r, h.svc.ApproveRequest)
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
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
	var payload rejectPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	pr, err := h.svc.RejectRequest(r.Context(), actor, id, payload.Reason)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(pr))
}

func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	h.requestAction(w, r, h.svc.CancelRequest)
}

func (h *Handler) requestAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, actor shared.Actor, id int64) (PurchaseRequest, error),
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
	pr, err := action(r.Context(), actor, id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(pr))
}

type itemPayload struct {
	VendorName  string `json:"vendor_name" validate:"required"`
	VendorTaxID string `json:"vendor_tax_id"`
	Description string `json:"description"`
	UnitValue   string `json:"unit_value" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
}

type createQuotationPayload struct {
	RequestID int64         `json:"request_id" validate:"required"`
	Items     []itemPayload `json:"items" validate:"dive"`
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	var payload createQuotationPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	items, err := toItemInputs(payload.Items)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	q, err := h.svc.CreateQuotation(r.Context(), actor, payload.RequestID, items)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toQuotationResponse(q, nil))
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	q, items, err := h.svc.GetQuotation(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toQuotationResponse(q, items))
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r)
	filters := QuotationFilters{Status: QuotationStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("request_id"); v != "" {
		filters.RequestID, _ = strconv.ParseInt(v, 10, 64)
	}
	quotations, total, err := h.svc.ListQuotations(r.Context(), filters, perPage, (page-1)*perPage)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]quotationResponse, 0, len(quotations))
	for _, q := range quotations {
		items = append(items, toQuotationResponse(q, nil))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(page, perPage, total)})
}

type replaceItemsPayload struct {
	Items []itemPayload `json:"items" validate:"required,dive"`
}

func (h *Handler) replaceItems(w http.ResponseWriter, r *http.Request) {
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
	var payload replaceItemsPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	items, err := toItemInputs(payload.Items)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.svc.ReplaceQuotationItems(r.Context(), actor, id, items); err != nil {
		shared.WriteError(w, err)
		return
	}
	q, full, err := h.svc.GetQuotation(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toQuotationResponse(q, full))
}

func (h *Handler) releaseQuotation(w http.ResponseWriter, r *http.Request) {
	h.quotationAction(w, r, h.svc.ReleaseQuotation)
}

type approveQuotationPayload struct {
	SelectedItemID int64 `json:"selected_item_id" validate:"required"`
}

func (h *Handler) approveQuotation(w http.ResponseWriter, r *http.Request) {
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
	var payload approveQuotationPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	q, err := h.svc.ApproveQuotation(r.Context(), actor, id, payload.SelectedItemID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toQuotationResponse(q, nil))
}

func (h *Handler) cancelQuotation(w http.ResponseWriter, r *http.Request) {
	h.quotationAction(w, r, h.svc.CancelQuotation)
}

func (h *Handler) quotationAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, actor shared.Actor, id int64) (Quotation, error),
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
	q, err := action(r.Context(), actor, id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toQuotationResponse(q, nil))
}

func (h *Handler) deleteQuotation(w http.ResponseWriter, r *http.Request) {
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
	if err := h.svc.DeleteQuotation(r.Context(), actor, id); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}

type createOrderPayload struct {
	RequestID int64 `json:"request_id" validate:"required"`
	ItemID    int64 `json:"item_id" validate:"required"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	var payload createOrderPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), actor, payload.RequestID, payload.ItemID)
	if err != nil && !errors.Is(err, shared.ErrCollaborator) {
		shared.WriteError(w, err)
		return
	}
	resp := map[string]any{"order": toOrderResponse(order)}
	if err != nil {
		// The order exists; only the document render failed.
		resp["warning"] = shared.UserSafeMessage(err)
	}
	shared.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r)
	filters := OrderFilters{Status: OrderStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("request_id"); v != "" {
		filters.RequestID, _ = strconv.ParseInt(v, 10, 64)
	}
	orders, total, err := h.svc.ListOrders(r.Context(), filters, perPage, (page-1)*perPage)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(page, perPage, total)})
}

type orderStatusPayload struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
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
	var payload orderStatusPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	order, err := h.svc.UpdateOrderStatus(r.Context(), actor, id, OrderStatus(payload.Status))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toOrderResponse(order))
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

func toItemInputs(payloads []itemPayload) ([]ItemInput, error) {
	items := make([]ItemInput, 0, len(payloads))
	for _, p := range payloads {
		value, err := decimal.NewFromString(p.UnitValue)
		if err != nil {
			return nil, fmt.Errorf("unit_value %q: %w", p.UnitValue, shared.ErrValidation)
		}
		items = append(items, ItemInput{
			VendorName:  p.VendorName,
			VendorTaxID: p.VendorTaxID,
			Description: p.Description,
			UnitValue:   value,
			Quantity:    p.Quantity,
		})
	}
	return items, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
