package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"reportvault.org/internal/auth"
)

func newTestAPI(t *testing.T, opts ...auth.ServiceOption) (*API, *auth.MemoryStore, *auth.Service) {
	t.Helper()
	store := auth.NewMemoryStore()
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	opts = append([]auth.ServiceOption{auth.WithBcryptCost(bcrypt.MinCost)}, opts...)
	svc, err := auth.NewService(store, tokens, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return New(svc, ReadyProbe{}, "test"), store, svc
}

func seedUser(t *testing.T, store *auth.MemoryStore, email, password string, roleNames ...string) *auth.User {
	t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &auth.User{
		Username:     email,
		Email:        email,
		PasswordHash: hash,
		Status:       auth.StatusActive,
	}
	if err := store.Users(ctx).Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}
	roles := store.Roles(ctx)
	for _, name := range roleNames {
		role, err := roles.FindByName(ctx, name)
		if err != nil {
			t.Fatalf("FindByName(%s): %v", name, err)
		}
		if err := roles.Assign(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}
	return user
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func loginToken(t *testing.T, api *API, email, password string) string {
	t.Helper()
	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestLoginHandler(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass", auth.RoleUser)

	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "s3cret-pass"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Token     string         `json:"token"`
		ExpiresAt time.Time      `json:"expires_at"`
		User      map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.ExpiresAt.IsZero() {
		t.Fatalf("incomplete session payload: %+v", resp)
	}
	if resp.User["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %v", resp.User)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == defaultCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be http-only")
	}
	if cookie.Value != resp.Token {
		t.Fatal("cookie must carry the session token")
	}
}

func TestLoginHandlerRejectsBadCredentials(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "wrong"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "invalid credentials" {
		t.Fatalf("unexpected error body: %v", resp)
	}
}

func TestLoginHandlerLockedAccount(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")

	h := api.Handler()
	for i := 0; i < 5; i++ {
		doJSON(t, h, http.MethodPost, "/v1/auth/login",
			map[string]string{"email": "alice@example.com", "password": "wrong"}, nil)
	}
	rr := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "alice@example.com", "password": "s3cret-pass"}, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for locked account, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/login", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow header = %q", rr.Header().Get("Allow"))
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "a@b.c", "password": "x", "extra": "nope"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestMeRequiresAuth(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/me", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestMeWithBearerToken(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass", auth.RoleUser)
	token := loginToken(t, api, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User["email"] != "alice@example.com" {
		t.Fatalf("unexpected payload: %v", resp.User)
	}
}

func TestMeWithCookieToken(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")
	token := loginToken(t, api, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/me", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: defaultCookieName, Value: token})
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 via cookie, got %d", rr.Code)
	}
}

func TestHeaderTokenWinsOverCookie(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")
	token := loginToken(t, api, "alice@example.com", "s3cret-pass")

	// A bad header must not fall back to the valid cookie.
	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not-a-token")
		r.AddCookie(&http.Cookie{Name: defaultCookieName, Value: token})
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when header token is invalid, got %d", rr.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")
	token := loginToken(t, api, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/logout", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cleared bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == defaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout must clear the session cookie")
	}
}

func TestChangePasswordHandlerRotatesSession(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")
	token := loginToken(t, api, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/password",
		map[string]string{"current_password": "s3cret-pass", "new_password": "brand-new-pass"},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.Token == token {
		t.Fatal("expected a fresh session token")
	}

	// The rotated token keeps the client signed in.
	rr = doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/me", nil,
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+resp.Token) })
	if rr.Code != http.StatusOK {
		t.Fatalf("rotated session rejected: %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRegisterHandlerDisabled(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/register",
		map[string]string{"username": "bob", "email": "bob@example.com", "password": "longenough"}, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRegisterHandler(t *testing.T) {
	api, _, _ := newTestAPI(t, auth.WithRegistration(true))
	rr := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/register",
		map[string]string{"username": "bob", "email": "bob@example.com", "password": "longenough"}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPermissionsRouteRequiresPermission(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass", auth.RoleUser)
	token := loginToken(t, api, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/permissions", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	var resp struct {
		Required []string `json:"required_permissions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Required) != 1 || resp.Required[0] != auth.PermRoleManage {
		t.Fatalf("required_permissions = %v", resp.Required)
	}

	// The refusal lands in the activity log.
	found := false
	for _, rec := range store.AuditRecords() {
		if rec.Action == auth.AuditPermissionDenied {
			found = true
		}
	}
	if !found {
		t.Fatal("permission denial not audited")
	}
}

func TestPermissionsRouteSuperAdmin(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "root@example.com", "s3cret-pass", auth.RoleSuperAdmin)
	token := loginToken(t, api, "root@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/permissions", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for superuser, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestInfoOptionalAuth(t *testing.T) {
	api, store, _ := newTestAPI(t)
	seedUser(t, store, "alice@example.com", "s3cret-pass")

	rr := doJSON(t, api.Handler(), http.MethodGet, "/v1/info", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 anonymous, got %d", rr.Code)
	}
	var anon map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &anon)
	if _, ok := anon["user_id"]; ok {
		t.Fatal("anonymous info must not carry user_id")
	}

	token := loginToken(t, api, "alice@example.com", "s3cret-pass")
	rr = doJSON(t, api.Handler(), http.MethodGet, "/v1/info", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	var authed map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &authed)
	if authed["user_id"] == "" || authed["user_id"] == nil {
		t.Fatal("authenticated info should carry user_id")
	}
}

func TestHealthz(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rr := doJSON(t, api.Handler(), http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id header missing")
	}
}
