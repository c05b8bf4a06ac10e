// Package relhttp exposes the relationship graph over JSON endpoints.
package relhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
	"github.com/crewnet-hq/crewnet/internal/relationships"
	"github.com/crewnet-hq/crewnet/internal/shared"
	"github.com/crewnet-hq/crewnet/internal/statuscache"
)

const batchLimit = 100

// RelationshipService is the mutation and listing contract the handler
// drives.
type RelationshipService interface {
	SendConnectionRequest(ctx context.Context, requester identity.Persona, recipient identity.Endpoint) (*relationships.Connection, error)
	AcceptConnectionRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Connection, error)
	RejectConnectionRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) error
	RemoveConnection(ctx context.Context, actor identity.Persona, id uuid.UUID) error
	Connection(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Connection, error)
	ListConnections(ctx context.Context, viewer identity.Persona, status relationships.ConnectionStatus) ([]relationships.Connection, error)

	FollowUser(ctx context.Context, follower identity.Persona, followeeUserID int64) (*relationships.Follow, error)
	UnfollowUser(ctx context.Context, follower identity.Persona, followeeUserID int64) error
	AcceptFollowRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Follow, error)
	RejectFollowRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) error
	Follow(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Follow, error)
	ListFollowers(ctx context.Context, viewer identity.Persona, status relationships.FollowStatus) ([]relationships.Follow, error)
	ListFollowing(ctx context.Context, viewer identity.Persona) ([]relationships.Follow, error)

	BlockPrincipal(ctx context.Context, blocker identity.Persona, blockedPrincipalID int64) (*relationships.Block, error)
	UnblockPrincipal(ctx context.Context, blocker identity.Persona, blockedPrincipalID int64) error
	ListBlocks(ctx context.Context, viewer identity.Persona) ([]relationships.Block, error)
}

// StatusCache is the read-side status layer mutations are routed through so
// cached entries track the store.
type StatusCache interface {
	Get(ctx context.Context, viewer identity.Persona, target identity.Endpoint) relationships.RelationshipStatus
	GetBatch(ctx context.Context, viewer identity.Persona, targets []identity.Endpoint) map[string]relationships.RelationshipStatus
	Mutate(ctx context.Context, viewer identity.Persona, target identity.Endpoint, op statuscache.OpKind, mutation func(ctx context.Context) error) error
	InvalidateViewer(ctx context.Context, viewer identity.Persona)
}

// IdempotencyGuard dedupes replayed mutation requests by client-chosen key,
// scoped to the acting principal.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, principalID int64, key, module string) error
	Delete(ctx context.Context, principalID int64, key string) error
}

// Handler coordinates HTTP requests for connections, follows, blocks and
// status lookups.
type Handler struct {
	logger      *slog.Logger
	service     RelationshipService
	cache       StatusCache
	idempotency IdempotencyGuard
	validator   *validator.Validate
}

// NewHandler constructs the relationships HTTP handler. idempotency may be
// nil, in which case the Idempotency-Key header is ignored.
func NewHandler(logger *slog.Logger, service RelationshipService, cache StatusCache, idempotency IdempotencyGuard) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		cache:       cache,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

type endpointPayload struct {
	Kind string `json:"kind" validate:"required,oneof=user business"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (p endpointPayload) endpoint() identity.Endpoint {
	return identity.Endpoint{Kind: identity.EndpointKind(p.Kind), ID: p.ID}
}

type statusResponse struct {
	Status relationships.RelationshipStatus `json:"status"`
}

type connectionResponse struct {
	ID        uuid.UUID                        `json:"id"`
	Requester identity.Endpoint                `json:"requester"`
	Recipient identity.Endpoint                `json:"recipient"`
	Status    relationships.ConnectionStatus   `json:"connection_status"`
	Resolved  relationships.RelationshipStatus `json:"status"`
}

type followResponse struct {
	ID             uuid.UUID                        `json:"id"`
	Follower       identity.Endpoint                `json:"follower"`
	FolloweeUserID int64                            `json:"followee_user_id"`
	Status         relationships.FollowStatus       `json:"follow_status"`
	Resolved       relationships.RelationshipStatus `json:"status"`
}

func (h *Handler) sendConnection(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var payload endpointPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target := payload.endpoint()

	var conn *relationships.Connection
	err := h.mutate(r, actor.Persona, target, statuscache.OpSendConnection, "relationships.connection", func(ctx context.Context) error {
		var err error
		conn, err = h.service.SendConnectionRequest(ctx, actor.Persona, target)
		return err
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusCreated, connectionResponse{
		ID:        conn.ID,
		Requester: conn.Requester,
		Recipient: conn.Recipient,
		Status:    conn.Status,
		Resolved:  h.cache.Get(r.Context(), actor.Persona, target),
	})
}

func (h *Handler) acceptConnection(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.service.Connection(r.Context(), actor.Persona, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	target := existing.Other(actor.Persona.Endpoint())

	var conn *relationships.Connection
	err = h.mutate(r, actor.Persona, target, statuscache.OpAcceptConnection, "relationships.connection", func(ctx context.Context) error {
		var err error
		conn, err = h.service.AcceptConnectionRequest(ctx, actor.Persona, id)
		return err
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusOK, connectionResponse{
		ID:        conn.ID,
		Requester: conn.Requester,
		Recipient: conn.Recipient,
		Status:    conn.Status,
		Resolved:  h.cache.Get(r.Context(), actor.Persona, target),
	})
}

func (h *Handler) rejectConnection(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.service.Connection(r.Context(), actor.Persona, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	target := existing.Other(actor.Persona.Endpoint())

	err = h.mutate(r, actor.Persona, target, statuscache.OpRejectConnection, "relationships.connection", func(ctx context.Context) error {
		return h.service.RejectConnectionRequest(ctx, actor.Persona, id)
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: h.cache.Get(r.Context(), actor.Persona, target)})
}

func (h *Handler) removeConnection(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.service.Connection(r.Context(), actor.Persona, id)
	if err != nil {
		if errors.Is(err, relationships.ErrNotFound) {
			// removing a record that is already gone is the achieved state
			httpx.JSON(w, http.StatusOK, statusResponse{Status: relationships.EmptyStatus()})
			return
		}
		h.respondError(w, err)
		return
	}
	target := existing.Other(actor.Persona.Endpoint())

	err = h.mutate(r, actor.Persona, target, statuscache.OpRemoveConnection, "relationships.connection", func(ctx context.Context) error {
		return h.service.RemoveConnection(ctx, actor.Persona, id)
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: h.cache.Get(r.Context(), actor.Persona, target)})
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	status := relationships.ConnectionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = relationships.ConnectionAccepted
	}
	switch status {
	case relationships.ConnectionPending, relationships.ConnectionAccepted:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be pending or accepted")
		return
	}
	conns, err := h.service.ListConnections(r.Context(), actor.Persona, status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]connectionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionResponse{
			ID:        c.ID,
			Requester: c.Requester,
			Recipient: c.Recipient,
			Status:    c.Status,
			Resolved:  h.cache.Get(r.Context(), actor.Persona, c.Other(actor.Persona.Endpoint())),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type followPayload struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *Handler) follow(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var payload followPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target := identity.UserEndpoint(payload.UserID)

	var follow *relationships.Follow
	err := h.mutate(r, actor.Persona, target, statuscache.OpFollow, "relationships.follow", func(ctx context.Context) error {
		var err error
		follow, err = h.service.FollowUser(ctx, actor.Persona, payload.UserID)
		return err
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusCreated, followResponse{
		ID:             follow.ID,
		Follower:       follow.Follower,
		FolloweeUserID: follow.FolloweeUserID,
		Status:         follow.Status,
		Resolved:       h.cache.Get(r.Context(), actor.Persona, target),
	})
}

func (h *Handler) unfollow(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	target := identity.UserEndpoint(userID)

	err = h.mutate(r, actor.Persona, target, statuscache.OpUnfollow, "relationships.follow", func(ctx context.Context) error {
		return h.service.UnfollowUser(ctx, actor.Persona, userID)
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: h.cache.Get(r.Context(), actor.Persona, target)})
}

func (h *Handler) acceptFollow(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.service.Follow(r.Context(), actor.Persona, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	target := existing.Follower

	var follow *relationships.Follow
	err = h.mutate(r, actor.Persona, target, statuscache.OpAcceptFollow, "relationships.follow", func(ctx context.Context) error {
		var err error
		follow, err = h.service.AcceptFollowRequest(ctx, actor.Persona, id)
		return err
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusOK, followResponse{
		ID:             follow.ID,
		Follower:       follow.Follower,
		FolloweeUserID: follow.FolloweeUserID,
		Status:         follow.Status,
		Resolved:       h.cache.Get(r.Context(), actor.Persona, target),
	})
}

func (h *Handler) rejectFollow(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.service.Follow(r.Context(), actor.Persona, id)
	if err != nil {
		if errors.Is(err, relationships.ErrNotFound) {
			httpx.JSON(w, http.StatusOK, statusResponse{Status: relationships.EmptyStatus()})
			return
		}
		h.respondError(w, err)
		return
	}
	target := existing.Follower

	err = h.mutate(r, actor.Persona, target, statuscache.OpRejectFollow, "relationships.follow", func(ctx context.Context) error {
		return h.service.RejectFollowRequest(ctx, actor.Persona, id)
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: h.cache.Get(r.Context(), actor.Persona, target)})
}

func (h *Handler) listFollowers(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	status := relationships.FollowStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = relationships.FollowAccepted
	}
	switch status {
	case relationships.FollowPending, relationships.FollowAccepted:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be pending or accepted")
		return
	}
	follows, err := h.service.ListFollowers(r.Context(), actor.Persona, status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, followList(follows))
}

func (h *Handler) listFollowing(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	follows, err := h.service.ListFollowing(r.Context(), actor.Persona)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, followList(follows))
}

func followList(follows []relationships.Follow) []followResponse {
	out := make([]followResponse, 0, len(follows))
	for _, f := range follows {
		out = append(out, followResponse{
			ID:             f.ID,
			Follower:       f.Follower,
			FolloweeUserID: f.FolloweeUserID,
			Status:         f.Status,
		})
	}
	return out
}

type blockPayload struct {
	PrincipalID int64 `json:"principal_id" validate:"required,gt=0"`
}

type blockResponse struct {
	ID                 uuid.UUID `json:"id"`
	BlockedPrincipalID int64     `json:"blocked_principal_id"`
}

func (h *Handler) block(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var payload blockPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target := identity.UserEndpoint(payload.PrincipalID)

	var block *relationships.Block
	err := h.mutate(r, actor.Persona, target, statuscache.OpBlock, "relationships.block", func(ctx context.Context) error {
		var err error
		block, err = h.service.BlockPrincipal(ctx, actor.Persona, payload.PrincipalID)
		return err
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	// a block blankets every endpoint the blocked principal controls, not
	// just the user endpoint the mutation was keyed on
	h.cache.InvalidateViewer(r.Context(), actor.Persona)
	httpx.JSON(w, http.StatusCreated, blockResponse{ID: block.ID, BlockedPrincipalID: block.BlockedPrincipalID})
}

func (h *Handler) unblock(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	principalID, err := strconv.ParseInt(chi.URLParam(r, "principalID"), 10, 64)
	if err != nil || principalID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid principal id")
		return
	}
	target := identity.UserEndpoint(principalID)

	err = h.mutate(r, actor.Persona, target, statuscache.OpUnblock, "relationships.block", func(ctx context.Context) error {
		return h.service.UnblockPrincipal(ctx, actor.Persona, principalID)
	})
	if err != nil {
		h.respondServiceError(w, r, err, actor.Persona, target)
		return
	}
	h.cache.InvalidateViewer(r.Context(), actor.Persona)
	httpx.JSON(w, http.StatusOK, statusResponse{Status: h.cache.Get(r.Context(), actor.Persona, target)})
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	blocks, err := h.service.ListBlocks(r.Context(), actor.Persona)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]blockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockResponse{ID: b.ID, BlockedPrincipalID: b.BlockedPrincipalID})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	kind := identity.EndpointKind(r.URL.Query().Get("kind"))
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 || (kind != identity.EndpointUser && kind != identity.EndpointBusiness) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be user or business and id positive")
		return
	}
	st := h.cache.Get(r.Context(), actor.Persona, identity.Endpoint{Kind: kind, ID: id})
	httpx.JSON(w, http.StatusOK, statusResponse{Status: st})
}

type batchPayload struct {
	Targets []endpointPayload `json:"targets" validate:"required,min=1,dive"`
}

func (h *Handler) getStatusBatch(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	var payload batchPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if len(payload.Targets) > batchLimit {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "too many targets")
		return
	}
	targets := make([]identity.Endpoint, 0, len(payload.Targets))
	for _, t := range payload.Targets {
		targets = append(targets, t.endpoint())
	}
	statuses := h.cache.GetBatch(r.Context(), actor.Persona, targets)
	httpx.JSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

// mutate routes a mutation through the status cache, guarded by the
// Idempotency-Key header when one is supplied. Keys are scoped to the
// viewer's principal; one principal's key never swallows another's
// mutation. A failed mutation releases the key so the client's manual
// retry is not locked out.
func (h *Handler) mutate(r *http.Request, viewer identity.Persona, target identity.Endpoint, op statuscache.OpKind, module string, fn func(ctx context.Context) error) error {
	key := r.Header.Get(shared.IdempotencyHeader)
	principalID := viewer.OwnerPrincipalID
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), principalID, key, module); err != nil {
			return err
		}
	}
	err := h.cache.Mutate(r.Context(), viewer, target, op, fn)
	if err != nil && key != "" && h.idempotency != nil {
		if delErr := h.idempotency.Delete(r.Context(), principalID, key); delErr != nil {
			h.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
		}
	}
	return err
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError answers a failed mutation. Replayed idempotency keys
// are treated as the achieved state and answered with the current status.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, viewer identity.Persona, target identity.Endpoint) {
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		httpx.JSON(w, http.StatusOK, statusResponse{Status: h.cache.Get(r.Context(), viewer, target)})
		return
	}
	h.respondError(w, err)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if !httpx.Mapped(err) {
		h.logger.Error("relationship request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
