package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/procurehub/procurehub/internal/catalog"
	"github.com/procurehub/procurehub/internal/finance"
	"github.com/procurehub/procurehub/internal/identity"
	"github.com/procurehub/procurehub/internal/params"
	"github.com/procurehub/procurehub/internal/procurement"
	"github.com/procurehub/procurehub/internal/reporting"
	"github.com/procurehub/procurehub/internal/shared"
	"github.com/procurehub/procurehub/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	ActorSource    ActorSource

	IdentityHandler    *identity.Handler
	ProcurementHandler *procurement.Handler
	FinanceHandler     *finance.Handler
	CatalogHandler     *catalog.Handler
	ParamsHandler      *params.Handler
	ReportingHandler   *reporting.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with the default middleware chain,
// the public auth endpoints and the authenticated API surface.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: p.Logger,
		Config: p.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", p.IdentityHandler.AuthRoutes)

	r.Group(func(r chi.Router) {
		r.Use(Authenticator(p.Logger, p.SessionManager, p.ActorSource))

		p.IdentityHandler.Routes(r)
		p.ProcurementHandler.Routes(r)
		p.FinanceHandler.Routes(r)
		p.CatalogHandler.Routes(r)
		p.ParamsHandler.Routes(r)
		p.ReportingHandler.Routes(r)
		if p.JobHandler != nil {
			r.Route("/jobs", p.JobHandler.MountRoutes)
		}
	})

	return r
}
