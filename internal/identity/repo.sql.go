package identity

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListOwnedBusinessIDs returns the business accounts owned by a principal.
func (r *Repository) ListOwnedBusinessIDs(ctx context.Context, principalID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM businesses WHERE owner_principal_id = $1 ORDER BY id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
