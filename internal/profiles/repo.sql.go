package profiles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for profile records.
type Repository interface {
	GetUserProfile(ctx context.Context, id int64) (*UserProfile, error)
	UpdateUserProfile(ctx context.Context, p *UserProfile) error
	SetFollowApproval(ctx context.Context, userID int64, required bool) error

	GetBusiness(ctx context.Context, id int64) (*BusinessProfile, error)
	CreateBusiness(ctx context.Context, b *BusinessProfile) error
	UpdateBusiness(ctx context.Context, b *BusinessProfile) error
	DeleteBusiness(ctx context.Context, id int64) (bool, error)
	ListOwnedBusinesses(ctx context.Context, ownerPrincipalID int64) ([]BusinessProfile, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetUserProfile fetches a user profile by id.
func (r *PGRepository) GetUserProfile(ctx context.Context, id int64) (*UserProfile, error) {
	const q = `
		SELECT id, display_name, COALESCE(headline, ''), COALESCE(bio, ''), follow_approval_required, created_at, updated_at
		FROM users
		WHERE id = $1 AND is_active`
	var p UserProfile
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.DisplayName, &p.Headline, &p.Bio, &p.FollowApprovalRequired, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdateUserProfile persists the editable user profile fields.
func (r *PGRepository) UpdateUserProfile(ctx context.Context, p *UserProfile) error {
	const q = `
		UPDATE users
		SET display_name = $2, headline = $3, bio = $4, updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, p.ID, p.DisplayName, p.Headline, p.Bio)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFollowApproval flips the follow approval requirement for a user.
func (r *PGRepository) SetFollowApproval(ctx context.Context, userID int64, required bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET follow_approval_required = $2, updated_at = now() WHERE id = $1`, userID, required)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBusiness fetches a business profile by id.
func (r *PGRepository) GetBusiness(ctx context.Context, id int64) (*BusinessProfile, error) {
	const q = `
		SELECT id, owner_principal_id, name, name_key, COALESCE(description, ''), COALESCE(website, ''), created_at, updated_at
		FROM businesses
		WHERE id = $1`
	var b BusinessProfile
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&b.ID, &b.OwnerPrincipalID, &b.Name, &b.NameKey, &b.Description, &b.Website, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// CreateBusiness inserts a business and backfills the generated id.
func (r *PGRepository) CreateBusiness(ctx context.Context, b *BusinessProfile) error {
	const q = `
		INSERT INTO businesses (owner_principal_id, name, name_key, description, website, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), now(), now())
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, b.OwnerPrincipalID, b.Name, b.NameKey, b.Description, b.Website).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrNameTaken
	}
	return err
}

// UpdateBusiness persists the editable business fields.
func (r *PGRepository) UpdateBusiness(ctx context.Context, b *BusinessProfile) error {
	const q = `
		UPDATE businesses
		SET name = $2, name_key = $3, description = NULLIF($4, ''), website = NULLIF($5, ''), updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, b.ID, b.Name, b.NameKey, b.Description, b.Website)
	if isUniqueViolation(err) {
		return ErrNameTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBusiness removes a business row.
func (r *PGRepository) DeleteBusiness(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM businesses WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListOwnedBusinesses returns the businesses a principal owns, oldest first.
func (r *PGRepository) ListOwnedBusinesses(ctx context.Context, ownerPrincipalID int64) ([]BusinessProfile, error) {
	const q = `
		SELECT id, owner_principal_id, name, name_key, COALESCE(description, ''), COALESCE(website, ''), created_at, updated_at
		FROM businesses
		WHERE owner_principal_id = $1
		ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, ownerPrincipalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BusinessProfile
	for rows.Next() {
		var b BusinessProfile
		if err := rows.Scan(&b.ID, &b.OwnerPrincipalID, &b.Name, &b.NameKey, &b.Description, &b.Website, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
