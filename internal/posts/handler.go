package posts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
)

// Handler wires HTTP endpoints for posts and comments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers post routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pages/{accountID}/posts", h.listPagePosts)
	r.Post("/posts", h.createPost)
	r.Get("/posts/{id}", h.getPost)
	r.Patch("/posts/{id}", h.updatePost)
	r.Delete("/posts/{id}", h.deletePost)

	r.Get("/posts/{id}/comments", h.listComments)
	r.Post("/posts/{id}/comments", h.createComment)
	r.Patch("/comments/{id}", h.updateComment)
	r.Delete("/comments/{id}", h.deleteComment)
}

type createPostRequest struct {
	PageAccountID int64  `json:"page_account_id" validate:"required,gt=0"`
	Body          string `json:"body" validate:"required,max=10000"`
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var req createPostRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	post, err := h.service.CreatePost(r.Context(), actor, req.PageAccountID, req.Body)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, post)
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	post, err := h.service.Post(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, post)
}

func (h *Handler) listPagePosts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pagePathInt(w, r, "accountID")
	if !ok {
		return
	}
	page, perPage := listParams(r)
	posts, pagination, err := h.service.PagePosts(r.Context(), accountID, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if posts == nil {
		posts = []Post{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"posts": posts, "pagination": pagination})
}

type bodyRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

func (h *Handler) updatePost(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	var req bodyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	post, err := h.service.UpdatePost(r.Context(), actor, id, req.Body)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, post)
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeletePost(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createComment(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	postID, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	var req bodyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	comment, err := h.service.CreateComment(r.Context(), actor, postID, req.Body)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, comment)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	postID, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	page, perPage := listParams(r)
	comments, pagination, err := h.service.Comments(r.Context(), postID, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if comments == nil {
		comments = []Comment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"comments": comments, "pagination": pagination})
}

func (h *Handler) updateComment(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	var req bodyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	comment, err := h.service.UpdateComment(r.Context(), actor, id, req.Body)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, comment)
}

func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := pagePathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteComment(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return page, perPage
}

func pagePathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if !httpx.Mapped(err) {
		h.logger.Error("post request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
