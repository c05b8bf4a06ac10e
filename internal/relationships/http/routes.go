package relhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/crewnet-hq/crewnet/internal/identity"
)

// MountRoutes registers relationship endpoints onto the router. The caller
// is expected to have identity.Middleware.RequireActor applied already.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/connections", h.listConnections)
	r.Get("/follows/followers", h.listFollowers)
	r.Get("/follows/following", h.listFollowing)
	r.Get("/blocks", h.listBlocks)
	r.Get("/status", h.getStatus)
	r.Post("/status/batch", h.getStatusBatch)

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/connections", h.sendConnection)
		gr.Post("/connections/{id}/accept", h.acceptConnection)
		gr.Post("/connections/{id}/reject", h.rejectConnection)
		gr.Delete("/connections/{id}", h.removeConnection)
		gr.Post("/follows", h.follow)
		gr.Delete("/follows/{userID}", h.unfollow)
		gr.Post("/follows/{id}/accept", h.acceptFollow)
		gr.Post("/follows/{id}/reject", h.rejectFollow)
		gr.Post("/blocks", h.block)
		gr.Delete("/blocks/{principalID}", h.unblock)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := identity.ActorFromContext(r.Context()); actor != nil {
		return "principal:" + strconv.FormatInt(actor.Principal.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
