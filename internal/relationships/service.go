package relationships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

// Sentinel errors forming the relationship error taxonomy. Each wraps an
// httpx sentinel, so handlers map any of them to a problem response with
// one httpx.RespondError call; services never swallow them.
var (
	ErrNotFound         = fmt.Errorf("relationships: %w", httpx.ErrNotFound)
	ErrNotAuthorized    = fmt.Errorf("relationships: not authorized: %w", httpx.ErrForbidden)
	ErrInvalidState     = fmt.Errorf("relationships: operation does not apply to current status: %w", httpx.ErrInvalidState)
	ErrAlreadyExists    = fmt.Errorf("relationships: already exists: %w", httpx.ErrDuplicate)
	ErrAlreadyConnected = fmt.Errorf("relationships: already connected: %w", httpx.ErrDuplicate)
	ErrAlreadyPending   = fmt.Errorf("relationships: request already pending: %w", httpx.ErrDuplicate)
	ErrAlreadyFollowing = fmt.Errorf("relationships: already following: %w", httpx.ErrDuplicate)
	ErrBlocked          = fmt.Errorf("relationships: interaction is blocked: %w", httpx.ErrBlocked)
	ErrSelfRelation     = fmt.Errorf("relationships: cannot relate an account to itself: %w", httpx.ErrValidation)
)

// Repository defines persistence operations for the relationship graph.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error)
	FindConnectionBetween(ctx context.Context, a, b identity.Endpoint) (*Connection, error)
	CreateConnection(ctx context.Context, conn *Connection) error
	SetConnectionStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus) error
	DeleteConnection(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteConnectionsBetweenPrincipals(ctx context.Context, principalA, principalB int64) (int64, error)
	ListConnections(ctx context.Context, endpoint identity.Endpoint, status ConnectionStatus) ([]Connection, error)
	DeleteRejectedConnectionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetFollow(ctx context.Context, id uuid.UUID) (*Follow, error)
	FindFollow(ctx context.Context, follower identity.Endpoint, followeeUserID int64) (*Follow, error)
	CreateFollow(ctx context.Context, f *Follow) error
	SetFollowStatus(ctx context.Context, id uuid.UUID, status FollowStatus) error
	DeleteFollow(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteFollowsBetweenPrincipals(ctx context.Context, principalA, principalB int64) (int64, error)
	ListFollowers(ctx context.Context, followeeUserID int64, status FollowStatus) ([]Follow, error)
	ListFollowing(ctx context.Context, follower identity.Endpoint) ([]Follow, error)

	FindBlock(ctx context.Context, blockerPrincipalID, blockedPrincipalID int64) (*Block, error)
	FindBlockBetween(ctx context.Context, principalA, principalB int64) (*Block, error)
	CreateBlock(ctx context.Context, b *Block) error
	DeleteBlock(ctx context.Context, blockerPrincipalID, blockedPrincipalID int64) (bool, error)
	ListBlocks(ctx context.Context, blockerPrincipalID int64) ([]Block, error)

	FollowApprovalRequired(ctx context.Context, userID int64) (bool, error)
	BusinessOwner(ctx context.Context, businessID int64) (int64, error)
}

// Service owns the state transitions of the relationship graph. All
// operations act on behalf of a persona; the persona's owning principal is
// what block records are checked against.
type Service struct {
	repo  Repository
	audit *shared.AuditLogger
}

// NewService builds Service instance. The audit logger may be nil.
func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

// principalFor resolves the principal controlling an endpoint: a user
// endpoint is its own principal, a business endpoint belongs to its owner.
func (s *Service) principalFor(ctx context.Context, repo Repository, e identity.Endpoint) (int64, error) {
	if e.IsUser() {
		return e.ID, nil
	}
	owner, err := repo.BusinessOwner(ctx, e.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, fmt.Errorf("%w: business %d", ErrNotFound, e.ID)
		}
		return 0, err
	}
	return owner, nil
}

func (s *Service) blockedBetween(ctx context.Context, repo Repository, principalA, principalB int64) (bool, error) {
	block, err := repo.FindBlockBetween(ctx, principalA, principalB)
	if err != nil {
		return false, err
	}
	return block != nil, nil
}

// SendConnectionRequest creates a pending connection from the requester
// persona to the recipient endpoint.
func (s *Service) SendConnectionRequest(ctx context.Context, requester identity.Persona, recipient identity.Endpoint) (*Connection, error) {
	if requester.Endpoint() == recipient {
		return nil, ErrSelfRelation
	}
	recipientPrincipal, err := s.principalFor(ctx, s.repo, recipient)
	if err != nil {
		return nil, err
	}
	blocked, err := s.blockedBetween(ctx, s.repo, requester.OwnerPrincipalID, recipientPrincipal)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	existing, err := s.repo.FindConnectionBetween(ctx, requester.Endpoint(), recipient)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		ID:        uuid.New(),
		Requester: requester.Endpoint(),
		Recipient: recipient,
		Status:    ConnectionPending,
	}

	switch {
	case existing == nil:
		if err := s.repo.CreateConnection(ctx, conn); err != nil {
			return nil, err
		}
	case existing.Status == ConnectionAccepted:
		return nil, ErrAlreadyConnected
	case existing.Status == ConnectionPending:
		return nil, ErrAlreadyPending
	default:
		// A rejected tombstone never blocks a fresh request; replace it so
		// the pair keeps a single row.
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			if _, err := tx.DeleteConnection(ctx, existing.ID); err != nil {
				return err
			}
			return tx.CreateConnection(ctx, conn)
		})
		if err != nil {
			return nil, err
		}
	}

	s.record(ctx, requester, "connection.request", conn.ID.String(), map[string]any{
		"recipient": recipient.Key(),
	})
	return conn, nil
}

// AcceptConnectionRequest transitions a pending connection to accepted.
// Only the recipient endpoint may accept. Accepting an already accepted
// record is a retry of an achieved state and succeeds.
func (s *Service) AcceptConnectionRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) (*Connection, error) {
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.Recipient != actor.Endpoint() {
		return nil, ErrNotAuthorized
	}
	switch conn.Status {
	case ConnectionAccepted:
		return conn, nil
	case ConnectionRejected:
		return nil, ErrInvalidState
	}
	if err := s.repo.SetConnectionStatus(ctx, id, ConnectionAccepted); err != nil {
		return nil, err
	}
	conn.Status = ConnectionAccepted
	s.record(ctx, actor, "connection.accept", id.String(), nil)
	return conn, nil
}

// RejectConnectionRequest marks a pending connection as rejected. The
// tombstone is kept until the cleanup job purges it and never prevents a
// subsequent fresh request.
func (s *Service) RejectConnectionRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) error {
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	if conn.Recipient != actor.Endpoint() {
		return ErrNotAuthorized
	}
	switch conn.Status {
	case ConnectionRejected:
		return nil
	case ConnectionAccepted:
		return ErrInvalidState
	}
	if err := s.repo.SetConnectionStatus(ctx, id, ConnectionRejected); err != nil {
		return err
	}
	s.record(ctx, actor, "connection.reject", id.String(), nil)
	return nil
}

// RemoveConnection deletes a connection regardless of status. Either
// endpoint may call it, both to cancel a pending outgoing request and to
// sever an accepted connection. A missing record is an already achieved end
// state and succeeds.
func (s *Service) RemoveConnection(ctx context.Context, actor identity.Persona, id uuid.UUID) error {
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !conn.Involves(actor.Endpoint()) {
		return ErrNotAuthorized
	}
	if _, err := s.repo.DeleteConnection(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "connection.remove", id.String(), nil)
	return nil
}

// FollowUser creates a follow edge from the follower persona to a user.
// Followees that do not require approval are accepted immediately.
func (s *Service) FollowUser(ctx context.Context, follower identity.Persona, followeeUserID int64) (*Follow, error) {
	followee := identity.Endpoint{Kind: identity.EndpointUser, ID: followeeUserID}
	if follower.Endpoint() == followee {
		return nil, ErrSelfRelation
	}
	blocked, err := s.blockedBetween(ctx, s.repo, follower.OwnerPrincipalID, followeeUserID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	existing, err := s.repo.FindFollow(ctx, follower.Endpoint(), followeeUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == FollowAccepted {
			return nil, ErrAlreadyFollowing
		}
		return nil, ErrAlreadyPending
	}

	approval, err := s.repo.FollowApprovalRequired(ctx, followeeUserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, followeeUserID)
		}
		return nil, err
	}

	follow := &Follow{
		ID:             uuid.New(),
		Follower:       follower.Endpoint(),
		FolloweeUserID: followeeUserID,
		Status:         FollowAccepted,
	}
	if approval {
		follow.Status = FollowPending
	}
	if err := s.repo.CreateFollow(ctx, follow); err != nil {
		return nil, err
	}
	s.record(ctx, follower, "follow.create", follow.ID.String(), map[string]any{
		"followee_user_id": followeeUserID,
	})
	return follow, nil
}

// UnfollowUser removes the follow edge, whether pending or accepted. The
// same operation cancels an outgoing pending request. Missing edges succeed.
func (s *Service) UnfollowUser(ctx context.Context, follower identity.Persona, followeeUserID int64) error {
	existing, err := s.repo.FindFollow(ctx, follower.Endpoint(), followeeUserID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if _, err := s.repo.DeleteFollow(ctx, existing.ID); err != nil {
		return err
	}
	s.record(ctx, follower, "follow.remove", existing.ID.String(), nil)
	return nil
}

// AcceptFollowRequest approves a pending follow. Only the followee user,
// acting as their personal persona, may approve.
func (s *Service) AcceptFollowRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) (*Follow, error) {
	follow, err := s.repo.GetFollow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPersonal() || actor.ID != follow.FolloweeUserID {
		return nil, ErrNotAuthorized
	}
	if follow.Status == FollowAccepted {
		return follow, nil
	}
	if err := s.repo.SetFollowStatus(ctx, id, FollowAccepted); err != nil {
		return nil, err
	}
	follow.Status = FollowAccepted
	s.record(ctx, actor, "follow.accept", id.String(), nil)
	return follow, nil
}

// RejectFollowRequest deletes the follow record. Rejection leaves no
// tombstone, so a fresh follow request afterwards creates a new record. A
// missing record succeeds.
func (s *Service) RejectFollowRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) error {
	follow, err := s.repo.GetFollow(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !actor.IsPersonal() || actor.ID != follow.FolloweeUserID {
		return ErrNotAuthorized
	}
	if _, err := s.repo.DeleteFollow(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "follow.reject", id.String(), nil)
	return nil
}

// BlockPrincipal records a block and atomically removes every connection
// and follow between the two principals, whichever personas carry them.
// Blocking an already blocked principal returns the existing record.
func (s *Service) BlockPrincipal(ctx context.Context, blocker identity.Persona, blockedPrincipalID int64) (*Block, error) {
	if blocker.OwnerPrincipalID == blockedPrincipalID {
		return nil, ErrSelfRelation
	}
	existing, err := s.repo.FindBlock(ctx, blocker.OwnerPrincipalID, blockedPrincipalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	block := &Block{
		ID:                 uuid.New(),
		BlockerPrincipalID: blocker.OwnerPrincipalID,
		BlockedPrincipalID: blockedPrincipalID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.DeleteConnectionsBetweenPrincipals(ctx, block.BlockerPrincipalID, blockedPrincipalID); err != nil {
			return err
		}
		if _, err := tx.DeleteFollowsBetweenPrincipals(ctx, block.BlockerPrincipalID, blockedPrincipalID); err != nil {
			return err
		}
		return tx.CreateBlock(ctx, block)
	})
	if err != nil {
		// A concurrent block of the same pair is an achieved end state.
		if errors.Is(err, ErrAlreadyExists) {
			return s.repo.FindBlock(ctx, blocker.OwnerPrincipalID, blockedPrincipalID)
		}
		return nil, err
	}
	s.record(ctx, blocker, "block.create", block.ID.String(), map[string]any{
		"blocked_principal_id": blockedPrincipalID,
	})
	return block, nil
}

// UnblockPrincipal removes the block held by the blocker. Removed relations
// are not restored. Missing blocks succeed.
func (s *Service) UnblockPrincipal(ctx context.Context, blocker identity.Persona, blockedPrincipalID int64) error {
	deleted, err := s.repo.DeleteBlock(ctx, blocker.OwnerPrincipalID, blockedPrincipalID)
	if err != nil {
		return err
	}
	if deleted {
		s.record(ctx, blocker, "block.remove", fmt.Sprintf("%d", blockedPrincipalID), nil)
	}
	return nil
}

// Connection returns one connection record. Either endpoint may read it.
func (s *Service) Connection(ctx context.Context, actor identity.Persona, id uuid.UUID) (*Connection, error) {
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.Involves(actor.Endpoint()) {
		return nil, ErrNotAuthorized
	}
	return conn, nil
}

// Follow returns one follow record. The follower or the followee may read it.
func (s *Service) Follow(ctx context.Context, actor identity.Persona, id uuid.UUID) (*Follow, error) {
	follow, err := s.repo.GetFollow(ctx, id)
	if err != nil {
		return nil, err
	}
	isFollowee := actor.IsPersonal() && actor.ID == follow.FolloweeUserID
	if follow.Follower != actor.Endpoint() && !isFollowee {
		return nil, ErrNotAuthorized
	}
	return follow, nil
}

// ListConnections returns the connection records involving the persona's
// endpoint with the given status.
func (s *Service) ListConnections(ctx context.Context, viewer identity.Persona, status ConnectionStatus) ([]Connection, error) {
	return s.repo.ListConnections(ctx, viewer.Endpoint(), status)
}

// ListFollowers returns follow records targeting the user.
func (s *Service) ListFollowers(ctx context.Context, viewer identity.Persona, status FollowStatus) ([]Follow, error) {
	if !viewer.IsPersonal() {
		return nil, ErrNotAuthorized
	}
	return s.repo.ListFollowers(ctx, viewer.ID, status)
}

// ListFollowing returns follow records created by the persona.
func (s *Service) ListFollowing(ctx context.Context, viewer identity.Persona) ([]Follow, error) {
	return s.repo.ListFollowing(ctx, viewer.Endpoint())
}

// ListBlocks returns the blocks held by the persona's principal.
func (s *Service) ListBlocks(ctx context.Context, viewer identity.Persona) ([]Block, error) {
	return s.repo.ListBlocks(ctx, viewer.OwnerPrincipalID)
}

// PurgeRejectedConnections removes rejected tombstones older than the
// retention window. Called by the background cleanup job.
func (s *Service) PurgeRejectedConnections(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteRejectedConnectionsBefore(ctx, time.Now().Add(-retention))
}

func (s *Service) record(ctx context.Context, actor identity.Persona, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorPrincipalID: actor.OwnerPrincipalID,
		ActorPersona:     actor.Encode(),
		Action:           action,
		Entity:           "relationship",
		EntityID:         entityID,
		Meta:             meta,
	})
}
