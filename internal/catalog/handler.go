package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/shared"
)

// Handler exposes catalog administration over JSON.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Patch("/{id}", h.update)
		r.Post("/{id}/activate", h.setActive(true))
		r.Post("/{id}/deactivate", h.setActive(false))
	})
}

type productResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	Description    string `json:"description,omitempty"`
	Unit           string `json:"unit"`
	ReferenceValue string `json:"reference_value"`
	Active         bool   `json:"active"`
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID:             p.ID,
		Name:           p.Name,
		Code:           p.Code,
		Description:    p.Description,
		Unit:           p.Unit,
		ReferenceValue: p.ReferenceValue.StringFixed(2),
		Active:         p.Active,
	}
}

type productPayload struct {
	Name           string `json:"name"`
	Code           string `json:"code"`
	Description    string `json:"description"`
	Unit           string `json:"unit"`
	ReferenceValue string `json:"reference_value"`
}

func (p productPayload) toInput() (ProductInput, error) {
	input := ProductInput{
		Name:        p.Name,
		Code:        p.Code,
		Description: p.Description,
		Unit:        p.Unit,
	}
	if p.ReferenceValue != "" {
		value, err := decimal.NewFromString(p.ReferenceValue)
		if err != nil {
			return ProductInput{}, fmt.Errorf("reference_value %q: %w", p.ReferenceValue, shared.ErrValidation)
		}
		input.ReferenceValue = value
	}
	return input, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var payload productPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, fmt.Errorf("malformed body: %w", shared.ErrValidation))
		return
	}
	input, err := payload.toInput()
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	p, err := h.svc.CreateProduct(r.Context(), actor, input)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var payload productPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, fmt.Errorf("malformed body: %w", shared.ErrValidation))
		return
	}
	input, err := payload.toInput()
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	p, err := h.svc.UpdateProduct(r.Context(), actor, id, input)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	p, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	products, err := h.svc.ListProducts(r.Context(), activeOnly)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]productResponse, 0, len(products))
	for _, p := range products {
		items = append(items, toProductResponse(p))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		id, err := pathID(r)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		if err := h.svc.SetProductActive(r.Context(), actor, id, active); err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusNoContent, nil)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
