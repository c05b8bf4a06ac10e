package profiles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
)

// Handler wires HTTP endpoints for user and business profiles.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers profile routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/profiles/users/{id}", h.getUserProfile)
	r.Patch("/profiles/me", h.updateOwnProfile)
	r.Put("/profiles/me/follow-approval", h.setFollowApproval)

	r.Get("/businesses", h.listOwnedBusinesses)
	r.Post("/businesses", h.createBusiness)
	r.Get("/businesses/{id}", h.getBusiness)
	r.Patch("/businesses/{id}", h.updateBusiness)
	r.Delete("/businesses/{id}", h.deleteBusiness)
}

func (h *Handler) getUserProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	profile, err := h.service.UserProfile(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

type userProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=120"`
	Headline    string `json:"headline" validate:"max=200"`
	Bio         string `json:"bio" validate:"max=4000"`
}

func (h *Handler) updateOwnProfile(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var req userProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	profile, err := h.service.UpdateUserProfile(r.Context(), actor, actor.Principal.ID, UserProfileUpdate{
		DisplayName: req.DisplayName,
		Headline:    req.Headline,
		Bio:         req.Bio,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

type followApprovalRequest struct {
	Required bool `json:"required"`
}

func (h *Handler) setFollowApproval(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var req followApprovalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.SetFollowApproval(r.Context(), actor, req.Required); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, followApprovalRequest{Required: req.Required})
}

func (h *Handler) listOwnedBusinesses(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	businesses, err := h.service.OwnedBusinesses(r.Context(), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if businesses == nil {
		businesses = []BusinessProfile{}
	}
	httpx.JSON(w, http.StatusOK, businesses)
}

type businessRequest struct {
	Name        string `json:"name" validate:"required,max=160"`
	Description string `json:"description" validate:"max=4000"`
	Website     string `json:"website" validate:"omitempty,url,max=300"`
}

func (h *Handler) createBusiness(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var req businessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	business, err := h.service.CreateBusiness(r.Context(), actor, BusinessInput{
		Name:        req.Name,
		Description: req.Description,
		Website:     req.Website,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, business)
}

func (h *Handler) getBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	business, err := h.service.Business(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, business)
}

func (h *Handler) updateBusiness(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req businessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	business, err := h.service.UpdateBusiness(r.Context(), actor, id, BusinessInput{
		Name:        req.Name,
		Description: req.Description,
		Website:     req.Website,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, business)
}

func (h *Handler) deleteBusiness(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteBusiness(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if !httpx.Mapped(err) {
		h.logger.Error("profile request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
