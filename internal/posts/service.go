package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/permissions"
	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

var (
	ErrNotFound     = fmt.Errorf("posts: %w", httpx.ErrNotFound)
	ErrBodyRequired = fmt.Errorf("posts: body required: %w", httpx.ErrValidation)
	// ErrDenied wraps a permission decision's reason; handlers surface it
	// with a 403.
	ErrDenied = fmt.Errorf("posts: permission denied: %w", httpx.ErrForbidden)
)

func denied(d permissions.Decision) error {
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

// Service owns post and comment lifecycle. Every mutation stamps or checks
// the acting persona's account id, never the principal's.
type Service struct {
	repo  Repository
	audit *shared.AuditLogger
}

// NewService constructs a Service.
func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreatePost publishes a post on a page, authored by the active persona.
func (s *Service) CreatePost(ctx context.Context, actor *identity.Actor, pageAccountID int64, body string) (*Post, error) {
	if actor == nil {
		return nil, denied(permissions.Deny("login required"))
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrBodyRequired
	}
	author := actor.Persona.ID
	p := &Post{
		PageAccountID:   pageAccountID,
		AuthorAccountID: &author,
		Body:            body,
	}
	if err := s.repo.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "post.create", fmt.Sprintf("post:%d", p.ID))
	return p, nil
}

// Post fetches one post.
func (s *Service) Post(ctx context.Context, id int64) (*Post, error) {
	return s.repo.GetPost(ctx, id)
}

// PagePosts lists a page's posts, newest first, with pagination metadata.
func (s *Service) PagePosts(ctx context.Context, pageAccountID int64, page, perPage int) ([]Post, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	total, err := s.repo.CountPostsByPage(ctx, pageAccountID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	items, err := s.repo.ListPostsByPage(ctx, pageAccountID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// UpdatePost replaces a post's body. Only the authoring account may edit,
// so a principal acting under a different persona than the one that wrote
// the post is denied.
func (s *Service) UpdatePost(ctx context.Context, actor *identity.Actor, id int64, body string) (*Post, error) {
	p, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if d := permissions.CanEditPost(actor, permissions.PostMeta{AuthorAccountID: p.AuthorAccountID}); !d.Allowed {
		return nil, denied(d)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrBodyRequired
	}
	if err := s.repo.UpdatePostBody(ctx, id, body); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "post.update", fmt.Sprintf("post:%d", id))
	return s.repo.GetPost(ctx, id)
}

// DeletePost removes a post. Deleting an already-deleted post succeeds.
func (s *Service) DeletePost(ctx context.Context, actor *identity.Actor, id int64) error {
	p, err := s.repo.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if d := permissions.CanDeletePost(actor, permissions.PostMeta{AuthorAccountID: p.AuthorAccountID}); !d.Allowed {
		return denied(d)
	}
	if _, err := s.repo.DeletePost(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "post.delete", fmt.Sprintf("post:%d", id))
	return nil
}

// CreateComment replies to a post, authored by the active persona.
func (s *Service) CreateComment(ctx context.Context, actor *identity.Actor, postID int64, body string) (*Comment, error) {
	if actor == nil {
		return nil, denied(permissions.Deny("login required"))
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrBodyRequired
	}
	if _, err := s.repo.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	author := actor.Persona.ID
	c := &Comment{
		PostID:          postID,
		AuthorAccountID: &author,
		Body:            body,
	}
	if err := s.repo.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "comment.create", fmt.Sprintf("comment:%d", c.ID))
	return c, nil
}

// Comments lists a post's comments, oldest first, with pagination metadata.
func (s *Service) Comments(ctx context.Context, postID int64, page, perPage int) ([]Comment, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	if _, err := s.repo.GetPost(ctx, postID); err != nil {
		return nil, shared.Pagination{}, err
	}
	total, err := s.repo.CountComments(ctx, postID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	items, err := s.repo.ListComments(ctx, postID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// UpdateComment replaces a comment's body. Only the authoring account may
// edit; the page owner's moderation override does not extend to editing.
func (s *Service) UpdateComment(ctx context.Context, actor *identity.Actor, id int64, body string) (*Comment, error) {
	c, err := s.repo.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d := permissions.CanEditComment(actor, permissions.CommentMeta{AuthorAccountID: c.AuthorAccountID}); !d.Allowed {
		return nil, denied(d)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrBodyRequired
	}
	if err := s.repo.UpdateCommentBody(ctx, id, body); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "comment.update", fmt.Sprintf("comment:%d", id))
	return s.repo.GetComment(ctx, id)
}

// DeleteComment removes a comment. The authoring account may always delete
// its own comment; the owner of the page the comment lives on may delete
// anything on that page. Deleting a missing comment succeeds.
func (s *Service) DeleteComment(ctx context.Context, actor *identity.Actor, id int64) error {
	c, err := s.repo.GetComment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	meta := permissions.CommentMeta{AuthorAccountID: c.AuthorAccountID}
	if p, err := s.repo.GetPost(ctx, c.PostID); err == nil {
		meta.PageOwnerAccountID = &p.PageAccountID
	}
	if d := permissions.CanDeleteComment(actor, meta); !d.Allowed {
		return denied(d)
	}
	if _, err := s.repo.DeleteComment(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "comment.delete", fmt.Sprintf("comment:%d", id))
	return nil
}

func (s *Service) record(ctx context.Context, actor *identity.Actor, action, entityID string) {
	if s.audit == nil || actor == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorPrincipalID: actor.Principal.ID,
		ActorPersona:     actor.Persona.Encode(),
		Action:           action,
		Entity:           "post",
		EntityID:         entityID,
	})
}
