package params

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/procurehub/procurehub/internal/shared"
)

// Handler exposes system parameter administration over JSON.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the parameter endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/parameters", func(r chi.Router) {
		r.Get("/", h.list)
		r.Put("/{key}", h.set)
	})
}

type parameterResponse struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	parameters, err := h.svc.List(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]parameterResponse, 0, len(parameters))
	for _, p := range parameters {
		items = append(items, parameterResponse{Key: p.Key, Value: p.Value, Description: p.Description})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type setPayload struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	key := chi.URLParam(r, "key")
	var payload setPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, fmt.Errorf("malformed body: %w", shared.ErrValidation))
		return
	}
	if err := h.svc.Set(r.Context(), actor, key, payload.Value, payload.Description); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, parameterResponse{Key: key, Value: payload.Value, Description: payload.Description})
}
