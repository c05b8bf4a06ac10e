package relationships

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

// memRepo is an in-memory Repository mirroring the SQL layer's contract,
// including the uniqueness rules the database enforces via partial indexes.
type memRepo struct {
	mu          sync.Mutex
	connections map[uuid.UUID]*Connection
	follows     map[uuid.UUID]*Follow
	blocks      map[uuid.UUID]*Block
	owners      map[int64]int64 // businessID -> owner principal
	approval    map[int64]bool  // userID -> follow approval required
}

func newMemRepo() *memRepo {
	return &memRepo{
		connections: make(map[uuid.UUID]*Connection),
		follows:     make(map[uuid.UUID]*Follow),
		blocks:      make(map[uuid.UUID]*Block),
		owners:      make(map[int64]int64),
		approval:    make(map[int64]bool),
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func samePair(c *Connection, a, b identity.Endpoint) bool {
	return (c.Requester == a && c.Recipient == b) || (c.Requester == b && c.Recipient == a)
}

func (m *memRepo) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) FindConnectionBetween(ctx context.Context, a, b identity.Endpoint) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rejected *Connection
	for _, c := range m.connections {
		if !samePair(c, a, b) {
			continue
		}
		if c.Status != ConnectionRejected {
			cp := *c
			return &cp, nil
		}
		rejected = c
	}
	if rejected != nil {
		cp := *rejected
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepo) CreateConnection(ctx context.Context, conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.connections {
		if samePair(c, conn.Requester, conn.Recipient) && c.Status != ConnectionRejected {
			return ErrAlreadyPending
		}
	}
	cp := *conn
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.connections[cp.ID] = &cp
	return nil
}

func (m *memRepo) SetConnectionStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) DeleteConnection(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.connections[id]
	delete(m.connections, id)
	return ok, nil
}

func (m *memRepo) principalOf(e identity.Endpoint) int64 {
	if e.IsUser() {
		return e.ID
	}
	return m.owners[e.ID]
}

func (m *memRepo) DeleteConnectionsBetweenPrincipals(ctx context.Context, principalA, principalB int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.connections {
		pa, pb := m.principalOf(c.Requester), m.principalOf(c.Recipient)
		if (pa == principalA && pb == principalB) || (pa == principalB && pb == principalA) {
			delete(m.connections, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ListConnections(ctx context.Context, endpoint identity.Endpoint, status ConnectionStatus) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Connection
	for _, c := range m.connections {
		if c.Involves(endpoint) && c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteRejectedConnectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.connections {
		if c.Status == ConnectionRejected && c.UpdatedAt.Before(cutoff) {
			delete(m.connections, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) GetFollow(ctx context.Context, id uuid.UUID) (*Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.follows[id]
	if !ok {
		return nil, ErrNotFound
	}
	fp := *f
	return &fp, nil
}

func (m *memRepo) FindFollow(ctx context.Context, follower identity.Endpoint, followeeUserID int64) (*Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.follows {
		if f.Follower == follower && f.FolloweeUserID == followeeUserID {
			fp := *f
			return &fp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) CreateFollow(ctx context.Context, follow *Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.follows {
		if f.Follower == follow.Follower && f.FolloweeUserID == follow.FolloweeUserID {
			return ErrAlreadyPending
		}
	}
	fp := *follow
	fp.CreatedAt = time.Now()
	fp.UpdatedAt = fp.CreatedAt
	m.follows[fp.ID] = &fp
	return nil
}

func (m *memRepo) SetFollowStatus(ctx context.Context, id uuid.UUID, status FollowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.follows[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	f.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) DeleteFollow(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.follows[id]
	delete(m.follows, id)
	return ok, nil
}

func (m *memRepo) DeleteFollowsBetweenPrincipals(ctx context.Context, principalA, principalB int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, f := range m.follows {
		pa, pb := m.principalOf(f.Follower), f.FolloweeUserID
		if (pa == principalA && pb == principalB) || (pa == principalB && pb == principalA) {
			delete(m.follows, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ListFollowers(ctx context.Context, followeeUserID int64, status FollowStatus) ([]Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Follow
	for _, f := range m.follows {
		if f.FolloweeUserID == followeeUserID && f.Status == status {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memRepo) ListFollowing(ctx context.Context, follower identity.Endpoint) ([]Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Follow
	for _, f := range m.follows {
		if f.Follower == follower {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memRepo) FindBlock(ctx context.Context, blockerPrincipalID, blockedPrincipalID int64) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.BlockerPrincipalID == blockerPrincipalID && b.BlockedPrincipalID == blockedPrincipalID {
			bp := *b
			return &bp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) FindBlockBetween(ctx context.Context, principalA, principalB int64) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if (b.BlockerPrincipalID == principalA && b.BlockedPrincipalID == principalB) ||
			(b.BlockerPrincipalID == principalB && b.BlockedPrincipalID == principalA) {
			bp := *b
			return &bp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) CreateBlock(ctx context.Context, block *Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.BlockerPrincipalID == block.BlockerPrincipalID && b.BlockedPrincipalID == block.BlockedPrincipalID {
			return ErrAlreadyExists
		}
	}
	bp := *block
	bp.CreatedAt = time.Now()
	m.blocks[bp.ID] = &bp
	return nil
}

func (m *memRepo) DeleteBlock(ctx context.Context, blockerPrincipalID, blockedPrincipalID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.blocks {
		if b.BlockerPrincipalID == blockerPrincipalID && b.BlockedPrincipalID == blockedPrincipalID {
			delete(m.blocks, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListBlocks(ctx context.Context, blockerPrincipalID int64) ([]Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Block
	for _, b := range m.blocks {
		if b.BlockerPrincipalID == blockerPrincipalID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memRepo) FollowApprovalRequired(ctx context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approval[userID], nil
}

func (m *memRepo) BusinessOwner(ctx context.Context, businessID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[businessID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return owner, nil
}

var _ Repository = (*memRepo)(nil)
