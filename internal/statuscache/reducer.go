// Package statuscache keeps the last known relationship status per
// (viewer, target) pair and applies optimistic updates around mutations.
// The optimistic transitions are plain functions over an Entry value so the
// race-prone part of the sync protocol is testable without a store or a
// network.
package statuscache

import (
	"time"

	"github.com/crewnet-hq/crewnet/internal/relationships"
)

// OpKind names a relationship mutation for the purpose of predicting its
// effect on the cached status before the store confirms it.
type OpKind string

const (
	OpSendConnection   OpKind = "send_connection"
	OpAcceptConnection OpKind = "accept_connection"
	OpRejectConnection OpKind = "reject_connection"
	OpRemoveConnection OpKind = "remove_connection"
	OpFollow           OpKind = "follow"
	OpUnfollow         OpKind = "unfollow"
	OpAcceptFollow     OpKind = "accept_follow"
	OpRejectFollow     OpKind = "reject_follow"
	OpBlock            OpKind = "block"
	OpUnblock          OpKind = "unblock"
)

// Entry is one cached status. Snapshot holds the pre-mutation status while
// an optimistic update is in flight; a nil Snapshot means the entry is
// settled.
type Entry struct {
	Status    relationships.RelationshipStatus
	Snapshot  *relationships.RelationshipStatus
	FetchedAt time.Time
}

// Apply returns the entry with op's expected outcome applied optimistically.
// The previous status is retained as the rollback snapshot; applying a
// second op before the first settles keeps the original snapshot so a later
// rollback restores the last confirmed state, not an intermediate guess.
func Apply(e Entry, op OpKind) Entry {
	if e.Snapshot == nil {
		prev := e.Status
		e.Snapshot = &prev
	}
	switch op {
	case OpSendConnection:
		e.Status.Connection = relationships.ConnectionViewPendingSent
	case OpAcceptConnection:
		e.Status.Connection = relationships.ConnectionViewAccepted
	case OpRejectConnection, OpRemoveConnection:
		e.Status.Connection = relationships.ConnectionViewNone
	case OpFollow:
		// pending is the conservative guess; reconcile upgrades it to
		// accepted when the followee does not require approval
		e.Status.Following = relationships.FollowViewPending
	case OpUnfollow:
		e.Status.Following = relationships.FollowViewNone
	case OpAcceptFollow:
		e.Status.FollowedBy = relationships.FollowViewAccepted
	case OpRejectFollow:
		e.Status.FollowedBy = relationships.FollowViewNone
	case OpBlock:
		e.Status = relationships.BlockedStatus()
	case OpUnblock:
		e.Status = relationships.EmptyStatus()
	}
	return e
}

// Reconcile replaces the entry with the authoritative status after the
// mutation succeeded, discarding the rollback snapshot.
func Reconcile(e Entry, authoritative relationships.RelationshipStatus, now time.Time) Entry {
	return Entry{Status: authoritative, FetchedAt: now}
}

// Rollback restores the pre-mutation status after the mutation failed. A
// settled entry passes through unchanged, so rolling back twice is safe.
func Rollback(e Entry) Entry {
	if e.Snapshot == nil {
		return e
	}
	e.Status = *e.Snapshot
	e.Snapshot = nil
	return e
}
