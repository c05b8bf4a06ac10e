package identity

import (
	"errors"
	"net/http"

	"log/slog"

	"github.com/crewnet-hq/crewnet/internal/shared"
)

// Middleware resolves the session into an Actor once per request.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// ResolveActor loads the principal and revalidated active persona into the
// request context. Unauthenticated requests pass through with no actor; use
// RequireActor for routes that must not be reachable logged out.
func (m Middleware) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		principal, err := m.Service.Principal(r.Context(), sess)
		if err != nil {
			if !errors.Is(err, ErrNotAuthenticated) {
				if m.Logger != nil {
					m.Logger.Error("resolve principal", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		persona := m.Service.ActivePersona(r.Context(), sess, principal)
		actor := &Actor{Principal: principal, Persona: persona}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

// RequireActor rejects requests that carry no authenticated actor.
func (m Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()) == nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
