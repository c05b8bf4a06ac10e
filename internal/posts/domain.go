// Package posts manages posts and comments. Authorship is recorded as the
// account (persona) id that was active when the content was created, which
// is what every later permission check keys on. Account ids for users and
// businesses are drawn from one shared sequence.
package posts

import "time"

// Post is a feed entry on a profile page. AuthorAccountID is nullable:
// legacy rows without it are read-only for everyone.
type Post struct {
	ID              int64     `json:"id"`
	PageAccountID   int64     `json:"page_account_id"`
	AuthorAccountID *int64    `json:"author_account_id"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Comment is a reply on a post.
type Comment struct {
	ID              int64     `json:"id"`
	PostID          int64     `json:"post_id"`
	AuthorAccountID *int64    `json:"author_account_id"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
