package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"reportvault.org/internal/auth"
	"reportvault.org/internal/obs"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

const (
	defaultCookieName   = "reportvault_token"
	defaultCookieTTL    = 7 * 24 * time.Hour
	defaultLoginBurst   = 10
	defaultLoginPerSec  = 5
	defaultMaxBodyBytes = 1 << 20
)

// Option настраивает API.
type Option func(*API)

// WithCookie overrides the session cookie name and lifetime.
func WithCookie(name string, ttl time.Duration) Option {
	return func(a *API) {
		if name != "" {
			a.cookieName = name
		}
		if ttl > 0 {
			a.cookieTTL = ttl
		}
	}
}

// WithLoginRateLimit overrides the per-IP token bucket on the login route.
func WithLoginRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.loginBurst = burst
		a.loginPerSec = perSecond
	}
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	version    string

	cookieName  string
	cookieTTL   time.Duration
	loginBurst  int
	loginPerSec int
}

func New(svc *auth.Service, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:         http.NewServeMux(),
		svc:         svc,
		readyProbe:  rp,
		version:     version,
		cookieName:  defaultCookieName,
		cookieTTL:   defaultCookieTTL,
		loginBurst:  defaultLoginBurst,
		loginPerSec: defaultLoginPerSec,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/v1/info", a.optionalAuth(http.HandlerFunc(a.Info)))

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.loginBurst, a.loginPerSec))
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.Handle("/v1/auth/logout", a.requireAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/me", a.requireAuth(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("/v1/auth/password", a.requireAuth(http.HandlerFunc(a.handleChangePassword)))
	a.mux.Handle("/v1/auth/2fa/enroll", a.requireAuth(http.HandlerFunc(a.handleTwoFactorEnroll)))

	// catalog, admin-facing
	a.mux.Handle("/v1/permissions", a.requireAuth(a.requirePermission(
		http.HandlerFunc(a.handleListPermissions), auth.PermRoleManage)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, defaultMaxBodyBytes)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "reportvault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"name":    "reportvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		payload["user_id"] = userID
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	perms, err := a.svc.ListPermissions(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
