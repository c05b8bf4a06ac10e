package relhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/relationships"
	"github.com/crewnet-hq/crewnet/internal/shared"
	"github.com/crewnet-hq/crewnet/internal/statuscache"
)

// fakeService keeps the relationship graph in maps with just enough state
// machine to drive the handler paths under test.
type fakeService struct {
	mu          sync.Mutex
	connections map[uuid.UUID]*relationships.Connection
	follows     map[uuid.UUID]*relationships.Follow
	blocked     map[int64]bool // blocked principal ids, blocker implied
	sendErr     error
}

func newFakeService() *fakeService {
	return &fakeService{
		connections: make(map[uuid.UUID]*relationships.Connection),
		follows:     make(map[uuid.UUID]*relationships.Follow),
		blocked:     make(map[int64]bool),
	}
}

func (f *fakeService) SendConnectionRequest(ctx context.Context, requester identity.Persona, recipient identity.Endpoint) (*relationships.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if recipient.IsUser() && f.blocked[recipient.ID] {
		return nil, relationships.ErrBlocked
	}
	conn := &relationships.Connection{
		ID:        uuid.New(),
		Requester: requester.Endpoint(),
		Recipient: recipient,
		Status:    relationships.ConnectionPending,
	}
	f.connections[conn.ID] = conn
	return conn, nil
}

func (f *fakeService) AcceptConnectionRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[id]
	if !ok {
		return nil, relationships.ErrNotFound
	}
	if conn.Recipient != actor.Endpoint() {
		return nil, relationships.ErrNotAuthorized
	}
	conn.Status = relationships.ConnectionAccepted
	return conn, nil
}

func (f *fakeService) RejectConnectionRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[id]
	if !ok {
		return relationships.ErrNotFound
	}
	conn.Status = relationships.ConnectionRejected
	return nil
}

func (f *fakeService) RemoveConnection(ctx context.Context, actor identity.Persona, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connections, id)
	return nil
}

func (f *fakeService) Connection(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[id]
	if !ok {
		return nil, relationships.ErrNotFound
	}
	if !conn.Involves(actor.Endpoint()) {
		return nil, relationships.ErrNotAuthorized
	}
	cp := *conn
	return &cp, nil
}

func (f *fakeService) ListConnections(ctx context.Context, viewer identity.Persona, status relationships.ConnectionStatus) ([]relationships.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []relationships.Connection
	for _, c := range f.connections {
		if c.Involves(viewer.Endpoint()) && c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeService) FollowUser(ctx context.Context, follower identity.Persona, followeeUserID int64) (*relationships.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked[followeeUserID] {
		return nil, relationships.ErrBlocked
	}
	follow := &relationships.Follow{
		ID:             uuid.New(),
		Follower:       follower.Endpoint(),
		FolloweeUserID: followeeUserID,
		Status:         relationships.FollowAccepted,
	}
	f.follows[follow.ID] = follow
	return follow, nil
}

func (f *fakeService) UnfollowUser(ctx context.Context, follower identity.Persona, followeeUserID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, fl := range f.follows {
		if fl.Follower == follower.Endpoint() && fl.FolloweeUserID == followeeUserID {
			delete(f.follows, id)
		}
	}
	return nil
}

func (f *fakeService) AcceptFollowRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	follow, ok := f.follows[id]
	if !ok {
		return nil, relationships.ErrNotFound
	}
	follow.Status = relationships.FollowAccepted
	return follow, nil
}

func (f *fakeService) RejectFollowRequest(ctx context.Context, actor identity.Persona, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.follows, id)
	return nil
}

func (f *fakeService) Follow(ctx context.Context, actor identity.Persona, id uuid.UUID) (*relationships.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	follow, ok := f.follows[id]
	if !ok {
		return nil, relationships.ErrNotFound
	}
	cp := *follow
	return &cp, nil
}

func (f *fakeService) ListFollowers(ctx context.Context, viewer identity.Persona, status relationships.FollowStatus) ([]relationships.Follow, error) {
	return nil, nil
}

func (f *fakeService) ListFollowing(ctx context.Context, viewer identity.Persona) ([]relationships.Follow, error) {
	return nil, nil
}

func (f *fakeService) BlockPrincipal(ctx context.Context, blocker identity.Persona, blockedPrincipalID int64) (*relationships.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[blockedPrincipalID] = true
	return &relationships.Block{ID: uuid.New(), BlockerPrincipalID: blocker.OwnerPrincipalID, BlockedPrincipalID: blockedPrincipalID}, nil
}

func (f *fakeService) UnblockPrincipal(ctx context.Context, blocker identity.Persona, blockedPrincipalID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocked, blockedPrincipalID)
	return nil
}

func (f *fakeService) ListBlocks(ctx context.Context, viewer identity.Persona) ([]relationships.Block, error) {
	return nil, nil
}

// ResolveStatus makes the fake double as the cache's status source.
func (f *fakeService) ResolveStatus(ctx context.Context, viewer identity.Persona, target identity.Endpoint) (relationships.RelationshipStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := relationships.EmptyStatus()
	if target.IsUser() && f.blocked[target.ID] {
		return relationships.BlockedStatus(), nil
	}
	for _, c := range f.connections {
		if !c.Involves(viewer.Endpoint()) || !c.Involves(target) {
			continue
		}
		switch c.Status {
		case relationships.ConnectionAccepted:
			st.Connection = relationships.ConnectionViewAccepted
		case relationships.ConnectionPending:
			if c.Requester == viewer.Endpoint() {
				st.Connection = relationships.ConnectionViewPendingSent
			} else {
				st.Connection = relationships.ConnectionViewPendingReceived
			}
		}
	}
	for _, fl := range f.follows {
		if fl.Follower == viewer.Endpoint() && target.IsUser() && fl.FolloweeUserID == target.ID && fl.Status == relationships.FollowAccepted {
			st.Following = relationships.FollowViewAccepted
		}
	}
	return st, nil
}

func (f *fakeService) ResolveStatusBatch(ctx context.Context, viewer identity.Persona, targets []identity.Endpoint) map[string]relationships.RelationshipStatus {
	out := make(map[string]relationships.RelationshipStatus, len(targets))
	for _, t := range targets {
		st, err := f.ResolveStatus(ctx, viewer, t)
		if err != nil {
			st = relationships.EmptyStatus()
		}
		out[t.Key()] = st
	}
	return out
}

type guardKey struct {
	principalID int64
	key         string
}

type fakeGuard struct {
	mu   sync.Mutex
	keys map[guardKey]bool
}

func (g *fakeGuard) CheckAndInsert(ctx context.Context, principalID int64, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = make(map[guardKey]bool)
	}
	k := guardKey{principalID: principalID, key: key}
	if g.keys[k] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[k] = true
	return nil
}

func (g *fakeGuard) Delete(ctx context.Context, principalID int64, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, guardKey{principalID: principalID, key: key})
	return nil
}

type testEnv struct {
	service *fakeService
	guard   *fakeGuard
	router  chi.Router
}

func newTestEnv(t *testing.T, actor *identity.Actor) *testEnv {
	return newTestEnvWithGuard(t, actor, &fakeGuard{})
}

func newTestEnvWithGuard(t *testing.T, actor *identity.Actor, guard *fakeGuard) *testEnv {
	t.Helper()
	svc := newFakeService()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := statuscache.NewCache(svc, client, time.Minute, logger)
	h := NewHandler(logger, svc, cache, guard)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.ContextWithActor(req.Context(), actor)))
		})
	})
	h.MountRoutes(r)
	return &testEnv{service: svc, guard: guard, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestSendConnectionReturnsPendingSent(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})

	rec := env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID     uuid.UUID `json:"id"`
		Status struct {
			Connection string `json:"connection"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, "pending_sent", resp.Status.Connection)
}

func TestSendConnectionRejectsBadBody(t *testing.T) {
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: identity.PersonalPersona(1)})

	rec := env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "asteroid", "id": 2}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceErrorsMapToProblemResponses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		title  string
	}{
		{"pending duplicate", relationships.ErrAlreadyPending, http.StatusConflict, "Duplicate"},
		{"already connected", relationships.ErrAlreadyConnected, http.StatusConflict, "Duplicate"},
		{"blocked", relationships.ErrBlocked, http.StatusForbidden, "Blocked"},
		{"self", relationships.ErrSelfRelation, http.StatusBadRequest, "Validation Failed"},
		{"invalid state", relationships.ErrInvalidState, http.StatusUnprocessableEntity, "Invalid State"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: identity.PersonalPersona(1)})
			env.service.sendErr = tc.err

			rec := env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var pd struct {
				Title string `json:"title"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
			assert.Equal(t, tc.title, pd.Title)
		})
	}
}

func TestSendConnectionBlockedRollsBackCache(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})
	env.service.blocked[2] = false
	env.service.sendErr = relationships.ErrBlocked

	rec := env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// the optimistic pending_sent entry must not leak into reads
	env.service.sendErr = nil
	rec = env.do(t, http.MethodGet, "/status?kind=user&id=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, relationships.ConnectionViewNone, resp.Status.Connection)
}

func TestAcceptConnection(t *testing.T) {
	bob := identity.PersonalPersona(2)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 2}, Persona: bob})

	conn, err := env.service.SendConnectionRequest(context.Background(), identity.PersonalPersona(1), bob.Endpoint())
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/connections/"+conn.ID.String()+"/accept", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status struct {
			Connection string `json:"connection"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status.Connection)
}

func TestAcceptConnectionWrongSide(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})

	conn, err := env.service.SendConnectionRequest(context.Background(), alice, identity.UserEndpoint(2))
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/connections/"+conn.ID.String()+"/accept", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRemoveMissingConnectionSucceeds(t *testing.T) {
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: identity.PersonalPersona(1)})

	rec := env.do(t, http.MethodDelete, "/connections/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "delete-style operations are idempotent")
}

func TestIdempotencyKeyReplay(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})
	header := map[string]string{shared.IdempotencyHeader: "req-123"}

	rec := env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, env.service.connections, 1)

	// the replay does not re-run the mutation; it answers with the
	// achieved state
	rec = env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, env.service.connections, 1)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, relationships.ConnectionViewPendingSent, resp.Status.Connection)
}

func TestIdempotencyKeyScopedToPrincipal(t *testing.T) {
	guard := &fakeGuard{}
	envA := newTestEnvWithGuard(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: identity.PersonalPersona(1)}, guard)
	envB := newTestEnvWithGuard(t, &identity.Actor{Principal: identity.Principal{ID: 9}, Persona: identity.PersonalPersona(9)}, guard)
	header := map[string]string{shared.IdempotencyHeader: "shared-key-1"}

	rec := envA.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, envA.service.connections, 1)

	// a different principal reusing the same client-chosen key must not be
	// treated as a replay; their mutation runs
	rec = envB.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, envB.service.connections, 1)

	// while the same principal repeating the key is still a replay
	rec = envA.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, envA.service.connections, 1)
}

func TestIdempotencyKeyReleasedOnFailure(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})
	header := map[string]string{shared.IdempotencyHeader: "req-456"}

	env.service.sendErr = relationships.ErrBlocked
	rec := env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// the key was released, so a deliberate retry with the same key can
	// succeed once the blocker is gone
	env.service.sendErr = nil
	rec = env.do(t, http.MethodPost, "/connections", map[string]any{"kind": "user", "id": 2}, header)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestFollowAndUnfollow(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})

	rec := env.do(t, http.MethodPost, "/follows", map[string]any{"user_id": 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Status struct {
			Following string `json:"following"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status.Following)

	rec = env.do(t, http.MethodDelete, "/follows/2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var after statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, relationships.FollowViewNone, after.Status.Following)
}

func TestBlockReportsBlockedStatus(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})

	rec := env.do(t, http.MethodPost, "/blocks", map[string]any{"principal_id": 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/status?kind=user&id=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Status.Blocked)
}

func TestStatusBatch(t *testing.T) {
	alice := identity.PersonalPersona(1)
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: alice})

	conn, err := env.service.SendConnectionRequest(context.Background(), alice, identity.UserEndpoint(2))
	require.NoError(t, err)
	_, err = env.service.AcceptConnectionRequest(context.Background(), identity.PersonalPersona(2), conn.ID)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/status/batch", map[string]any{
		"targets": []map[string]any{
			{"kind": "user", "id": 2},
			{"kind": "user", "id": 3},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Statuses map[string]relationships.RelationshipStatus `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Statuses, 2)
	assert.Equal(t, relationships.ConnectionViewAccepted, resp.Statuses["user:2"].Connection)
	assert.Equal(t, relationships.ConnectionViewNone, resp.Statuses["user:3"].Connection)
}

func TestStatusBatchRejectsOversizedRequest(t *testing.T) {
	env := newTestEnv(t, &identity.Actor{Principal: identity.Principal{ID: 1}, Persona: identity.PersonalPersona(1)})

	targets := make([]map[string]any, batchLimit+1)
	for i := range targets {
		targets[i] = map[string]any{"kind": "user", "id": i + 2}
	}
	rec := env.do(t, http.MethodPost, "/status/batch", map[string]any{"targets": targets}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
