package relationships

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/platform/db"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool, pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx, pool: r.pool})
	})
}

const connectionColumns = `id, requester_kind, requester_id, recipient_kind, recipient_id, status, created_at, updated_at`

func scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.Requester.Kind, &c.Requester.ID, &c.Recipient.Kind, &c.Recipient.ID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnection fetches a connection by id.
func (r *PGRepository) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	conn, err := scanConnection(r.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

// FindConnectionBetween returns the record for the unordered endpoint pair,
// preferring a non-rejected record over a tombstone. Returns nil when no
// record exists.
func (r *PGRepository) FindConnectionBetween(ctx context.Context, a, b identity.Endpoint) (*Connection, error) {
	conn, err := scanConnection(r.db.QueryRow(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE (requester_kind = $1 AND requester_id = $2 AND recipient_kind = $3 AND recipient_id = $4)
		   OR (requester_kind = $3 AND requester_id = $4 AND recipient_kind = $1 AND recipient_id = $2)
		ORDER BY (status = 'rejected'), updated_at DESC
		LIMIT 1`,
		a.Kind, a.ID, b.Kind, b.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

// CreateConnection inserts a pending connection. A concurrent insert for the
// same pair trips the unique pair index and surfaces as ErrAlreadyPending.
func (r *PGRepository) CreateConnection(ctx context.Context, conn *Connection) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO connections (id, requester_kind, requester_id, recipient_kind, recipient_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		conn.ID, conn.Requester.Kind, conn.Requester.ID, conn.Recipient.Kind, conn.Recipient.ID, conn.Status, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyPending
		}
		return err
	}
	conn.CreatedAt = now
	conn.UpdatedAt = now
	return nil
}

// SetConnectionStatus updates the lifecycle state of a connection.
func (r *PGRepository) SetConnectionStatus(ctx context.Context, id uuid.UUID, status ConnectionStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE connections SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConnection removes a connection row, reporting whether it existed.
func (r *PGRepository) DeleteConnection(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteConnectionsBetweenPrincipals removes every connection whose two
// endpoints resolve to the given principals, whichever personas carry them.
func (r *PGRepository) DeleteConnectionsBetweenPrincipals(ctx context.Context, principalA, principalB int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		WITH resolved AS (
			SELECT c.id,
			       CASE WHEN c.requester_kind = 'user' THEN c.requester_id ELSE rb.owner_principal_id END AS requester_principal,
			       CASE WHEN c.recipient_kind = 'user' THEN c.recipient_id ELSE cb.owner_principal_id END AS recipient_principal
			FROM connections c
			LEFT JOIN businesses rb ON c.requester_kind = 'business' AND rb.id = c.requester_id
			LEFT JOIN businesses cb ON c.recipient_kind = 'business' AND cb.id = c.recipient_id
		)
		DELETE FROM connections WHERE id IN (
			SELECT id FROM resolved
			WHERE (requester_principal = $1 AND recipient_principal = $2)
			   OR (requester_principal = $2 AND recipient_principal = $1)
		)`, principalA, principalB)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListConnections returns connections involving the endpoint with a status.
func (r *PGRepository) ListConnections(ctx context.Context, endpoint identity.Endpoint, status ConnectionStatus) ([]Connection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE status = $3
		  AND ((requester_kind = $1 AND requester_id = $2) OR (recipient_kind = $1 AND recipient_id = $2))
		ORDER BY updated_at DESC`,
		endpoint.Kind, endpoint.ID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var conns []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.Requester.Kind, &c.Requester.ID, &c.Recipient.Kind, &c.Recipient.ID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// DeleteRejectedConnectionsBefore purges rejected tombstones older than cutoff.
func (r *PGRepository) DeleteRejectedConnectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM connections WHERE status = 'rejected' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const followColumns = `id, follower_kind, follower_id, followee_user_id, status, created_at, updated_at`

// GetFollow fetches a follow by id.
func (r *PGRepository) GetFollow(ctx context.Context, id uuid.UUID) (*Follow, error) {
	var f Follow
	err := r.db.QueryRow(ctx, `SELECT `+followColumns+` FROM follows WHERE id = $1`, id).
		Scan(&f.ID, &f.Follower.Kind, &f.Follower.ID, &f.FolloweeUserID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// FindFollow returns the edge from follower to followee, nil when absent.
func (r *PGRepository) FindFollow(ctx context.Context, follower identity.Endpoint, followeeUserID int64) (*Follow, error) {
	var f Follow
	err := r.db.QueryRow(ctx, `
		SELECT `+followColumns+` FROM follows
		WHERE follower_kind = $1 AND follower_id = $2 AND followee_user_id = $3`,
		follower.Kind, follower.ID, followeeUserID).
		Scan(&f.ID, &f.Follower.Kind, &f.Follower.ID, &f.FolloweeUserID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// CreateFollow inserts a follow edge.
func (r *PGRepository) CreateFollow(ctx context.Context, f *Follow) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO follows (id, follower_kind, follower_id, followee_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		f.ID, f.Follower.Kind, f.Follower.ID, f.FolloweeUserID, f.Status, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyPending
		}
		return err
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	return nil
}

// SetFollowStatus updates the lifecycle state of a follow.
func (r *PGRepository) SetFollowStatus(ctx context.Context, id uuid.UUID, status FollowStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE follows SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFollow removes a follow row, reporting whether it existed.
func (r *PGRepository) DeleteFollow(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM follows WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteFollowsBetweenPrincipals removes follow edges in both directions
// between the principals' personas.
func (r *PGRepository) DeleteFollowsBetweenPrincipals(ctx context.Context, principalA, principalB int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		WITH resolved AS (
			SELECT f.id,
			       CASE WHEN f.follower_kind = 'user' THEN f.follower_id ELSE fb.owner_principal_id END AS follower_principal,
			       f.followee_user_id AS followee_principal
			FROM follows f
			LEFT JOIN businesses fb ON f.follower_kind = 'business' AND fb.id = f.follower_id
		)
		DELETE FROM follows WHERE id IN (
			SELECT id FROM resolved
			WHERE (follower_principal = $1 AND followee_principal = $2)
			   OR (follower_principal = $2 AND followee_principal = $1)
		)`, principalA, principalB)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListFollowers returns follow edges targeting a user with the status.
func (r *PGRepository) ListFollowers(ctx context.Context, followeeUserID int64, status FollowStatus) ([]Follow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+followColumns+` FROM follows
		WHERE followee_user_id = $1 AND status = $2
		ORDER BY created_at DESC`, followeeUserID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFollows(rows)
}

// ListFollowing returns follow edges created by the endpoint.
func (r *PGRepository) ListFollowing(ctx context.Context, follower identity.Endpoint) ([]Follow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+followColumns+` FROM follows
		WHERE follower_kind = $1 AND follower_id = $2
		ORDER BY created_at DESC`, follower.Kind, follower.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFollows(rows)
}

func collectFollows(rows pgx.Rows) ([]Follow, error) {
	var follows []Follow
	for rows.Next() {
		var f Follow
		if err := rows.Scan(&f.ID, &f.Follower.Kind, &f.Follower.ID, &f.FolloweeUserID, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		follows = append(follows, f)
	}
	return follows, rows.Err()
}

// FindBlock returns the directed block record, nil when absent.
func (r *PGRepository) FindBlock(ctx context.Context, blockerPrincipalID, blockedPrincipalID int64) (*Block, error) {
	var b Block
	err := r.db.QueryRow(ctx, `
		SELECT id, blocker_principal_id, blocked_principal_id, created_at FROM blocks
		WHERE blocker_principal_id = $1 AND blocked_principal_id = $2`,
		blockerPrincipalID, blockedPrincipalID).
		Scan(&b.ID, &b.BlockerPrincipalID, &b.BlockedPrincipalID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// FindBlockBetween returns a block in either direction, nil when absent.
func (r *PGRepository) FindBlockBetween(ctx context.Context, principalA, principalB int64) (*Block, error) {
	var b Block
	err := r.db.QueryRow(ctx, `
		SELECT id, blocker_principal_id, blocked_principal_id, created_at FROM blocks
		WHERE (blocker_principal_id = $1 AND blocked_principal_id = $2)
		   OR (blocker_principal_id = $2 AND blocked_principal_id = $1)
		LIMIT 1`, principalA, principalB).
		Scan(&b.ID, &b.BlockerPrincipalID, &b.BlockedPrincipalID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// CreateBlock inserts a block record.
func (r *PGRepository) CreateBlock(ctx context.Context, b *Block) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO blocks (id, blocker_principal_id, blocked_principal_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		b.ID, b.BlockerPrincipalID, b.BlockedPrincipalID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	b.CreatedAt = now
	return nil
}

// DeleteBlock removes the directed block, reporting whether it existed.
func (r *PGRepository) DeleteBlock(ctx context.Context, blockerPrincipalID, blockedPrincipalID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM blocks WHERE blocker_principal_id = $1 AND blocked_principal_id = $2`,
		blockerPrincipalID, blockedPrincipalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListBlocks returns blocks held by a principal.
func (r *PGRepository) ListBlocks(ctx context.Context, blockerPrincipalID int64) ([]Block, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, blocker_principal_id, blocked_principal_id, created_at FROM blocks
		WHERE blocker_principal_id = $1 ORDER BY created_at DESC`, blockerPrincipalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.BlockerPrincipalID, &b.BlockedPrincipalID, &b.CreatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// FollowApprovalRequired reports whether the user approves followers manually.
func (r *PGRepository) FollowApprovalRequired(ctx context.Context, userID int64) (bool, error) {
	var required bool
	err := r.db.QueryRow(ctx, `SELECT follow_approval_required FROM users WHERE id = $1`, userID).Scan(&required)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, shared.ErrNotFound
		}
		return false, err
	}
	return required, nil
}

// BusinessOwner returns the owning principal of a business.
func (r *PGRepository) BusinessOwner(ctx context.Context, businessID int64) (int64, error) {
	var ownerID int64
	err := r.db.QueryRow(ctx, `SELECT owner_principal_id FROM businesses WHERE id = $1`, businessID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return ownerID, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
