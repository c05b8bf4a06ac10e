package posts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewnet-hq/crewnet/internal/identity"
)

type memRepo struct {
	mu       sync.Mutex
	posts    map[int64]*Post
	comments map[int64]*Comment
	nextID   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		posts:    make(map[int64]*Post),
		comments: make(map[int64]*Comment),
		nextID:   1000,
	}
}

func (m *memRepo) CreatePost(ctx context.Context, p *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.posts[p.ID] = &cp
	return nil
}

func (m *memRepo) GetPost(ctx context.Context, id int64) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) UpdatePostBody(ctx context.Context, id int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.Body = body
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) DeletePost(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return false, nil
	}
	delete(m.posts, id)
	for cid, c := range m.comments {
		if c.PostID == id {
			delete(m.comments, cid)
		}
	}
	return true, nil
}

func (m *memRepo) ListPostsByPage(ctx context.Context, pageAccountID int64, limit, offset int) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Post
	for _, p := range m.posts {
		if p.PageAccountID == pageAccountID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memRepo) CountPostsByPage(ctx context.Context, pageAccountID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.posts {
		if p.PageAccountID == pageAccountID {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CreateComment(ctx context.Context, c *Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

func (m *memRepo) GetComment(ctx context.Context, id int64) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) UpdateCommentBody(ctx context.Context, id int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return ErrNotFound
	}
	c.Body = body
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) DeleteComment(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[id]; !ok {
		return false, nil
	}
	delete(m.comments, id)
	return true, nil
}

func (m *memRepo) ListComments(ctx context.Context, postID int64, limit, offset int) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Comment
	for _, c := range m.comments {
		if c.PostID == postID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) CountComments(ctx context.Context, postID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.comments {
		if c.PostID == postID {
			n++
		}
	}
	return n, nil
}

var _ Repository = (*memRepo)(nil)

func personalActor(id int64, owned ...int64) *identity.Actor {
	return &identity.Actor{
		Principal: identity.Principal{ID: id, OwnedBusinessIDs: owned},
		Persona:   identity.PersonalPersona(id),
	}
}

func businessActor(businessID, principalID int64) *identity.Actor {
	return &identity.Actor{
		Principal: identity.Principal{ID: principalID, OwnedBusinessIDs: []int64{businessID}},
		Persona:   identity.BusinessPersona(businessID, principalID),
	}
}

func TestCreatePostStampsActivePersona(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	post, err := svc.CreatePost(context.Background(), businessActor(30, 7), 30, "we are hiring")
	require.NoError(t, err)
	require.NotNil(t, post.AuthorAccountID)
	// authorship belongs to the business account, not principal 7
	assert.Equal(t, int64(30), *post.AuthorAccountID)
}

func TestEditPostDeniedUnderWrongPersona(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)

	post, err := svc.CreatePost(context.Background(), businessActor(30, 7), 30, "original")
	require.NoError(t, err)

	// same human, personal hat on: no edit rights over the business post
	_, err = svc.UpdatePost(context.Background(), personalActor(7, 30), post.ID, "changed")
	require.ErrorIs(t, err, ErrDenied)

	got, err := svc.Post(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Body)

	// switching back to the business persona restores the rights
	updated, err := svc.UpdatePost(context.Background(), businessActor(30, 7), post.ID, "changed")
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Body)
}

func TestLegacyPostWithoutAuthorIsReadOnly(t *testing.T) {
	repo := newMemRepo()
	repo.posts[5] = &Post{ID: 5, PageAccountID: 7, Body: "imported"}
	svc := NewService(repo, nil)

	_, err := svc.UpdatePost(context.Background(), personalActor(7), 5, "rewrite")
	require.ErrorIs(t, err, ErrDenied)

	err = svc.DeletePost(context.Background(), personalActor(7), 5)
	require.ErrorIs(t, err, ErrDenied)
}

func TestDeletePostIdempotent(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	post, err := svc.CreatePost(context.Background(), personalActor(7), 7, "short lived")
	require.NoError(t, err)

	require.NoError(t, svc.DeletePost(context.Background(), personalActor(7), post.ID))
	// second delete finds nothing and still succeeds
	require.NoError(t, svc.DeletePost(context.Background(), personalActor(7), post.ID))
}

func TestDeletePostDeniedForStranger(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	post, err := svc.CreatePost(context.Background(), personalActor(7), 7, "mine")
	require.NoError(t, err)

	err = svc.DeletePost(context.Background(), personalActor(8), post.ID)
	require.ErrorIs(t, err, ErrDenied)

	_, err = svc.Post(context.Background(), post.ID)
	require.NoError(t, err)
}

func TestCommentOnMissingPost(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	_, err := svc.CreateComment(context.Background(), personalActor(7), 999, "hello?")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEditCommentOnlyByAuthor(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	post, err := svc.CreatePost(context.Background(), personalActor(7), 7, "host post")
	require.NoError(t, err)
	comment, err := svc.CreateComment(context.Background(), personalActor(8), post.ID, "nice")
	require.NoError(t, err)

	// the page owner cannot edit someone else's comment
	_, err = svc.UpdateComment(context.Background(), personalActor(7), comment.ID, "edited")
	require.ErrorIs(t, err, ErrDenied)

	updated, err := svc.UpdateComment(context.Background(), personalActor(8), comment.ID, "very nice")
	require.NoError(t, err)
	assert.Equal(t, "very nice", updated.Body)
}

func TestPageOwnerModeratesComments(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	post, err := svc.CreatePost(context.Background(), personalActor(7), 7, "host post")
	require.NoError(t, err)
	comment, err := svc.CreateComment(context.Background(), personalActor(8), post.ID, "spam")
	require.NoError(t, err)

	// an unrelated account cannot delete it
	err = svc.DeleteComment(context.Background(), personalActor(9), comment.ID)
	require.ErrorIs(t, err, ErrDenied)

	// the page owner can, even without authorship
	require.NoError(t, svc.DeleteComment(context.Background(), personalActor(7), comment.ID))

	_, err = svc.repo.GetComment(context.Background(), comment.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestModerationOverrideRequiresPagePersona(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	// page belongs to business account 30
	post, err := svc.CreatePost(context.Background(), businessActor(30, 7), 30, "announcement")
	require.NoError(t, err)
	comment, err := svc.CreateComment(context.Background(), personalActor(8), post.ID, "boo")
	require.NoError(t, err)

	// the owning principal under their personal persona has no override
	err = svc.DeleteComment(context.Background(), personalActor(7, 30), comment.ID)
	require.ErrorIs(t, err, ErrDenied)

	require.NoError(t, svc.DeleteComment(context.Background(), businessActor(30, 7), comment.ID))
}

func TestEmptyBodyRejected(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	_, err := svc.CreatePost(context.Background(), personalActor(7), 7, "   ")
	require.ErrorIs(t, err, ErrBodyRequired)

	post, err := svc.CreatePost(context.Background(), personalActor(7), 7, "ok")
	require.NoError(t, err)
	_, err = svc.UpdatePost(context.Background(), personalActor(7), post.ID, "")
	require.ErrorIs(t, err, ErrBodyRequired)
}

func TestAnonymousDenied(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	_, err := svc.CreatePost(context.Background(), nil, 7, "drive-by")
	require.ErrorIs(t, err, ErrDenied)
}
