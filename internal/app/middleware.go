package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/procurehub/procurehub/internal/identity"
	"github.com/procurehub/procurehub/internal/shared"
)

// ActorSource resolves session user IDs to full user records. Satisfied by
// the identity service.
type ActorSource interface {
	GetUser(ctx context.Context, id int64) (identity.User, error)
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// MiddlewareStack installs the base middleware chain applied to every route.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// Authenticator resolves the session to an actor and rejects requests that
// carry no authenticated user. The resolved actor is stored in the request
// context for downstream guards.
func Authenticator(logger *slog.Logger, sessions *shared.SessionManager, users ActorSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := sessions.Load(ctx, r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if sess.User() == 0 {
				shared.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
				return
			}
			u, err := users.GetUser(ctx, sess.User())
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					shared.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
					return
				}
				shared.WriteError(w, err)
				return
			}
			if !u.Active {
				shared.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "account disabled"})
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(ctx, u.Actor())))
		})
	}
}
