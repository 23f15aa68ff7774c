package reporting

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/procurehub/procurehub/internal/shared"
)

// Handler serves the dashboard aggregates.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the reporting endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/reports/dashboard", h.dashboard)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, d)
}
