package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/crewnet-hq/crewnet/internal/auth"
	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/observability"
	"github.com/crewnet-hq/crewnet/internal/posts"
	"github.com/crewnet-hq/crewnet/internal/profiles"
	relhttp "github.com/crewnet-hq/crewnet/internal/relationships/http"
	"github.com/crewnet-hq/crewnet/internal/shared"
	"github.com/crewnet-hq/crewnet/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	IdentityMiddleware identity.Middleware

	AuthHandler          *auth.Handler
	IdentityHandler      *identity.Handler
	ProfilesHandler      *profiles.Handler
	PostsHandler         *posts.Handler
	RelationshipsHandler *relhttp.Handler
	JobHandler           *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Clients fetch the CSRF token once per session and replay it in the
	// X-CSRF-Token header on every mutation.
	r.Get("/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		token, err := params.CSRFManager.EnsureToken(r.Context(), sess)
		if err != nil {
			params.Logger.Error("ensure csrf token", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"csrf_token":"` + token + `"}`))
	})

	params.AuthHandler.MountRoutes(r)

	// Everything below sees the resolved actor; routes that must not be
	// reachable logged out additionally require one.
	r.Group(func(r chi.Router) {
		r.Use(params.IdentityMiddleware.ResolveActor)

		if params.ProfilesHandler != nil {
			params.ProfilesHandler.MountRoutes(r)
		}
		if params.PostsHandler != nil {
			params.PostsHandler.MountRoutes(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(params.IdentityMiddleware.RequireActor)

			if params.IdentityHandler != nil {
				params.IdentityHandler.MountRoutes(r)
			}
			if params.RelationshipsHandler != nil {
				params.RelationshipsHandler.MountRoutes(r)
			}
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
