package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/crewnet-hq/crewnet/internal/app"
	"github.com/crewnet-hq/crewnet/internal/auth"
	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/shared"
	_ "github.com/crewnet-hq/crewnet/internal/testing/guard"
)

type stubAuthRepo struct {
	user *auth.User
}

func (r *stubAuthRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if r.user != nil && r.user.Email == email {
		cp := *r.user
		return &cp, nil
	}
	return nil, shared.ErrNotFound
}

func (r *stubAuthRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (r *stubAuthRepo) DeleteSession(ctx context.Context, id string) error { return nil }

func (r *stubAuthRepo) DeleteExpiredSessions(ctx context.Context) (int64, error) { return 0, nil }

type stubIdentityRepo struct {
	owned map[int64][]int64
}

func (r *stubIdentityRepo) ListOwnedBusinessIDs(ctx context.Context, principalID int64) ([]int64, error) {
	return r.owned[principalID], nil
}

type personaView struct {
	Kind   string `json:"kind"`
	ID     int64  `json:"id"`
	Active bool   `json:"active"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &app.Config{AppEnv: "development", AppRequestTimeout: 5 * time.Second}

	sessionManager := shared.NewSessionManager(redisClient, "crewnet_session", "e2e-session-secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("e2e-csrf-secret")

	hash, err := bcrypt.GenerateFromPassword([]byte("orange-tuesday-7"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	authRepo := &stubAuthRepo{user: &auth.User{
		ID:           7,
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: string(hash),
		IsActive:     true,
	}}
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	identityService := identity.NewService(&stubIdentityRepo{owned: map[int64][]int64{7: {30}}})
	identityHandler := identity.NewHandler(logger, identityService)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		IdentityMiddleware: identity.Middleware{Service: identityService, Logger: logger},
		AuthHandler:        authHandler,
		IdentityHandler:    identityHandler,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func fetchCSRFToken(t *testing.T, client *http.Client, base string) string {
	t.Helper()
	resp, err := client.Get(base + "/auth/csrf")
	if err != nil {
		t.Fatalf("get csrf: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csrf status: %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf: %v", err)
	}
	if body.Token == "" {
		t.Fatal("empty csrf token")
	}
	return body.Token
}

func postJSON(t *testing.T, client *http.Client, url, csrf string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if csrf != "" {
		req.Header.Set(shared.CSRFHeader, csrf)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func listPersonas(t *testing.T, client *http.Client, base string) ([]personaView, int) {
	t.Helper()
	resp, err := client.Get(base + "/personas")
	if err != nil {
		t.Fatalf("get personas: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}
	var body struct {
		Personas []personaView `json:"personas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode personas: %v", err)
	}
	return body.Personas, resp.StatusCode
}

func TestLoginSwitchPersonaLogout(t *testing.T) {
	srv := newTestServer(t)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	csrf := fetchCSRFToken(t, client, srv.URL)

	// mutations without the token are refused before reaching handlers
	resp := postJSON(t, client, srv.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "orange-tuesday-7",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", resp.StatusCode)
	}

	resp = postJSON(t, client, srv.URL+"/auth/login", csrf, map[string]string{
		"email":    "alice@example.com",
		"password": "orange-tuesday-7",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	var login struct {
		PrincipalID int64 `json:"principal_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.PrincipalID != 7 {
		t.Fatalf("principal id = %d, want 7", login.PrincipalID)
	}

	personas, status := listPersonas(t, client, srv.URL)
	if status != http.StatusOK {
		t.Fatalf("personas status: %d", status)
	}
	if len(personas) != 2 {
		t.Fatalf("personas = %v, want personal and one business", personas)
	}
	for _, p := range personas {
		switch p.Kind {
		case "personal":
			if p.ID != 7 || !p.Active {
				t.Fatalf("personal persona = %+v, want id 7 active", p)
			}
		case "business":
			if p.ID != 30 || p.Active {
				t.Fatalf("business persona = %+v, want id 30 inactive", p)
			}
		}
	}

	resp = postJSON(t, client, srv.URL+"/personas/switch", csrf, map[string]any{
		"kind": "business",
		"id":   30,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch status: %d", resp.StatusCode)
	}

	personas, _ = listPersonas(t, client, srv.URL)
	for _, p := range personas {
		if p.Kind == "business" && !p.Active {
			t.Fatal("business persona did not become active")
		}
		if p.Kind == "personal" && p.Active {
			t.Fatal("personal persona is still active after switch")
		}
	}

	// a business the principal does not own is refused
	resp = postJSON(t, client, srv.URL+"/personas/switch", csrf, map[string]any{
		"kind": "business",
		"id":   31,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 switching to unowned business, got %d", resp.StatusCode)
	}

	resp = postJSON(t, client, srv.URL+"/auth/logout", csrf, struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}

	if _, status := listPersonas(t, client, srv.URL); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestWrongPasswordLeavesSessionAnonymous(t *testing.T) {
	srv := newTestServer(t)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	csrf := fetchCSRFToken(t, client, srv.URL)

	resp := postJSON(t, client, srv.URL+"/auth/login", csrf, map[string]string{
		"email":    "alice@example.com",
		"password": "not-the-password",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login status: %d, want 401", resp.StatusCode)
	}

	if _, status := listPersonas(t, client, srv.URL); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous personas list, got %d", status)
	}
}
