package relationships

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

// ConnectionView is the connection status as seen from one viewpoint. The
// same pending record reads pending_sent for the requester and
// pending_received for the recipient.
type ConnectionView string

const (
	ConnectionViewNone            ConnectionView = "none"
	ConnectionViewPendingSent     ConnectionView = "pending_sent"
	ConnectionViewPendingReceived ConnectionView = "pending_received"
	ConnectionViewAccepted        ConnectionView = "accepted"
)

// FollowView is one direction of the follow relation as seen by the viewer.
type FollowView string

const (
	FollowViewNone     FollowView = "none"
	FollowViewPending  FollowView = "pending"
	FollowViewAccepted FollowView = "accepted"
)

// RelationshipStatus is the effective relation between the viewer and a
// target. Connection and follow are orthogonal and always reported
// together; a block overrides both.
type RelationshipStatus struct {
	Connection ConnectionView `json:"connection"`
	Following  FollowView     `json:"following"`
	FollowedBy FollowView     `json:"followed_by"`
	Blocked    bool           `json:"blocked"`
}

// EmptyStatus is the status between unrelated parties.
func EmptyStatus() RelationshipStatus {
	return RelationshipStatus{
		Connection: ConnectionViewNone,
		Following:  FollowViewNone,
		FollowedBy: FollowViewNone,
	}
}

// BlockedStatus is the status reported whenever a block exists, regardless
// of any stale connection or follow rows.
func BlockedStatus() RelationshipStatus {
	st := EmptyStatus()
	st.Blocked = true
	return st
}

// ResolverPort is the read-side subset of Repository the resolver needs.
type ResolverPort interface {
	FindConnectionBetween(ctx context.Context, a, b identity.Endpoint) (*Connection, error)
	FindFollow(ctx context.Context, follower identity.Endpoint, followeeUserID int64) (*Follow, error)
	FindBlockBetween(ctx context.Context, principalA, principalB int64) (*Block, error)
	BusinessOwner(ctx context.Context, businessID int64) (int64, error)
}

// Resolver computes effective relationship statuses.
type Resolver struct {
	repo ResolverPort
}

// NewResolver builds Resolver instance.
func NewResolver(repo ResolverPort) *Resolver {
	return &Resolver{repo: repo}
}

// batchConcurrency bounds the fan-out of ResolveStatusBatch.
const batchConcurrency = 8

// ResolveStatus returns the effective relation between the viewer persona
// and a target endpoint. Resolution order: block first, then connection,
// then follow in both directions.
func (r *Resolver) ResolveStatus(ctx context.Context, viewer identity.Persona, target identity.Endpoint) (RelationshipStatus, error) {
	targetPrincipal := target.ID
	if !target.IsUser() {
		owner, err := r.repo.BusinessOwner(ctx, target.ID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return EmptyStatus(), ErrNotFound
			}
			return EmptyStatus(), err
		}
		targetPrincipal = owner
	}

	block, err := r.repo.FindBlockBetween(ctx, viewer.OwnerPrincipalID, targetPrincipal)
	if err != nil {
		return EmptyStatus(), err
	}
	if block != nil {
		return BlockedStatus(), nil
	}

	st := EmptyStatus()

	conn, err := r.repo.FindConnectionBetween(ctx, viewer.Endpoint(), target)
	if err != nil {
		return EmptyStatus(), err
	}
	if conn != nil {
		switch conn.Status {
		case ConnectionAccepted:
			st.Connection = ConnectionViewAccepted
		case ConnectionPending:
			if conn.Requester == viewer.Endpoint() {
				st.Connection = ConnectionViewPendingSent
			} else {
				st.Connection = ConnectionViewPendingReceived
			}
		}
	}

	if target.IsUser() {
		outgoing, err := r.repo.FindFollow(ctx, viewer.Endpoint(), target.ID)
		if err != nil {
			return EmptyStatus(), err
		}
		st.Following = followView(outgoing)
	}
	if viewer.IsPersonal() {
		incoming, err := r.repo.FindFollow(ctx, target, viewer.ID)
		if err != nil {
			return EmptyStatus(), err
		}
		st.FollowedBy = followView(incoming)
	}

	return st, nil
}

// ResolveStatusBatch resolves a set of targets in parallel. A failed lookup
// degrades to the empty status for that target only; the batch never aborts.
func (r *Resolver) ResolveStatusBatch(ctx context.Context, viewer identity.Persona, targets []identity.Endpoint) map[string]RelationshipStatus {
	results := make(map[string]RelationshipStatus, len(targets))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			st, err := r.ResolveStatus(ctx, viewer, target)
			if err != nil {
				st = EmptyStatus()
			}
			mu.Lock()
			results[target.Key()] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func followView(f *Follow) FollowView {
	if f == nil {
		return FollowViewNone
	}
	if f.Status == FollowAccepted {
		return FollowViewAccepted
	}
	return FollowViewPending
}
