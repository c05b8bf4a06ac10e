package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

// Handler wires HTTP endpoints for persona management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers identity routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/personas", h.listPersonas)
	r.Post("/personas/switch", h.switchPersona)
}

type personaResponse struct {
	Kind   PersonaKind `json:"kind"`
	ID     int64       `json:"id"`
	Active bool        `json:"active"`
}

func (h *Handler) listPersonas(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	personas := h.service.Personas(actor.Principal)
	out := make([]personaResponse, 0, len(personas))
	for _, p := range personas {
		out = append(out, personaResponse{
			Kind:   p.Kind,
			ID:     p.ID,
			Active: p == actor.Persona,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"personas": out})
}

type switchPersonaRequest struct {
	Kind string `json:"kind" validate:"required,oneof=personal business"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (h *Handler) switchPersona(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	if actor == nil || sess == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}

	var req switchPersonaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	target := Persona{Kind: PersonaKind(req.Kind), ID: req.ID, OwnerPrincipalID: actor.Principal.ID}
	if err := h.service.SwitchPersona(r.Context(), sess, actor.Principal, target); err != nil {
		if errors.Is(err, ErrNotOwner) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "persona is not owned by the current account")
			return
		}
		if errors.Is(err, ErrNotAuthenticated) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		h.logger.Error("switch persona", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusOK, personaResponse{Kind: target.Kind, ID: target.ID, Active: true})
}
