package posts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for posts and comments.
type Repository interface {
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id int64) (*Post, error)
	UpdatePostBody(ctx context.Context, id int64, body string) error
	DeletePost(ctx context.Context, id int64) (bool, error)
	ListPostsByPage(ctx context.Context, pageAccountID int64, limit, offset int) ([]Post, error)
	CountPostsByPage(ctx context.Context, pageAccountID int64) (int, error)

	CreateComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id int64) (*Comment, error)
	UpdateCommentBody(ctx context.Context, id int64, body string) error
	DeleteComment(ctx context.Context, id int64) (bool, error)
	ListComments(ctx context.Context, postID int64, limit, offset int) ([]Comment, error)
	CountComments(ctx context.Context, postID int64) (int, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreatePost inserts a post and backfills the generated id.
func (r *PGRepository) CreatePost(ctx context.Context, p *Post) error {
	const q = `
		INSERT INTO posts (page_account_id, author_account_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.PageAccountID, p.AuthorAccountID, p.Body).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetPost fetches one post.
func (r *PGRepository) GetPost(ctx context.Context, id int64) (*Post, error) {
	const q = `
		SELECT id, page_account_id, author_account_id, body, created_at, updated_at
		FROM posts
		WHERE id = $1`
	var p Post
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.PageAccountID, &p.AuthorAccountID, &p.Body, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdatePostBody replaces a post's body.
func (r *PGRepository) UpdatePostBody(ctx context.Context, id int64, body string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE posts SET body = $2, updated_at = now() WHERE id = $1`, id, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost removes a post and its comments.
func (r *PGRepository) DeletePost(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListPostsByPage returns a page's posts, newest first.
func (r *PGRepository) ListPostsByPage(ctx context.Context, pageAccountID int64, limit, offset int) ([]Post, error) {
	const q = `
		SELECT id, page_account_id, author_account_id, body, created_at, updated_at
		FROM posts
		WHERE page_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, pageAccountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.PageAccountID, &p.AuthorAccountID, &p.Body, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPostsByPage counts a page's posts.
func (r *PGRepository) CountPostsByPage(ctx context.Context, pageAccountID int64) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM posts WHERE page_account_id = $1`, pageAccountID).Scan(&total)
	return total, err
}

// CreateComment inserts a comment and backfills the generated id.
func (r *PGRepository) CreateComment(ctx context.Context, c *Comment) error {
	const q = `
		INSERT INTO comments (post_id, author_account_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, c.PostID, c.AuthorAccountID, c.Body).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetComment fetches one comment.
func (r *PGRepository) GetComment(ctx context.Context, id int64) (*Comment, error) {
	const q = `
		SELECT id, post_id, author_account_id, body, created_at, updated_at
		FROM comments
		WHERE id = $1`
	var c Comment
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.PostID, &c.AuthorAccountID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdateCommentBody replaces a comment's body.
func (r *PGRepository) UpdateCommentBody(ctx context.Context, id int64, body string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE comments SET body = $2, updated_at = now() WHERE id = $1`, id, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteComment removes a comment.
func (r *PGRepository) DeleteComment(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListComments returns a post's comments, oldest first.
func (r *PGRepository) ListComments(ctx context.Context, postID int64, limit, offset int) ([]Comment, error) {
	const q = `
		SELECT id, post_id, author_account_id, body, created_at, updated_at
		FROM comments
		WHERE post_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, postID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorAccountID, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountComments counts a post's comments.
func (r *PGRepository) CountComments(ctx context.Context, postID int64) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM comments WHERE post_id = $1`, postID).Scan(&total)
	return total, err
}

var _ Repository = (*PGRepository)(nil)
