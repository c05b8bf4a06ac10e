package relationships

import (
	"time"

	"github.com/google/uuid"

	"github.com/crewnet-hq/crewnet/internal/identity"
)

// ConnectionStatus is the lifecycle state of a connection record.
type ConnectionStatus string

const (
	// ConnectionPending awaits the recipient's decision.
	ConnectionPending ConnectionStatus = "pending"
	// ConnectionAccepted is a live mutual connection.
	ConnectionAccepted ConnectionStatus = "accepted"
	// ConnectionRejected is a tombstone; it never blocks a fresh request.
	ConnectionRejected ConnectionStatus = "rejected"
)

// Connection is a directed-by-creation, bidirectional-in-effect relationship
// between two endpoints. At most one non-rejected record exists per
// unordered endpoint pair.
type Connection struct {
	ID        uuid.UUID
	Requester identity.Endpoint
	Recipient identity.Endpoint
	Status    ConnectionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Involves reports whether the endpoint is one of the two sides.
func (c Connection) Involves(e identity.Endpoint) bool {
	return c.Requester == e || c.Recipient == e
}

// Other returns the opposite side of the given endpoint.
func (c Connection) Other(e identity.Endpoint) identity.Endpoint {
	if c.Requester == e {
		return c.Recipient
	}
	return c.Requester
}

// FollowStatus is the lifecycle state of a follow record. There is no
// rejected terminal state; rejection deletes the record.
type FollowStatus string

const (
	// FollowPending awaits followee approval.
	FollowPending FollowStatus = "pending"
	// FollowAccepted is a live subscription.
	FollowAccepted FollowStatus = "accepted"
)

// Follow is a directed subscription from a persona to a user. Only users are
// followable; businesses participate in the graph through connections.
type Follow struct {
	ID             uuid.UUID
	Follower       identity.Endpoint
	FolloweeUserID int64
	Status         FollowStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Block suppresses every relation between two principals, in both
// directions, regardless of which persona either side acts as.
type Block struct {
	ID                 uuid.UUID
	BlockerPrincipalID int64
	BlockedPrincipalID int64
	CreatedAt          time.Time
}
