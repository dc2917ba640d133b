package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"reportvault.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// extractToken finds the session token on the request. The Authorization
// header wins over the cookie; a malformed header is not a fallback to the
// cookie but an absent token.
func (a *API) extractToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return strings.TrimSpace(header[len(bearer):])
		}
		return ""
	}
	if c, err := r.Cookie(a.cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// requireAuth gates a handler behind the authentication pipeline. The
// resolved identity is attached to the request context.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := a.extractToken(r)
		if token == "" {
			unauthorized(w, r, "authentication required")
			return
		}
		ac, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				unauthorized(w, r, "invalid token")
			case errors.Is(err, auth.ErrPasswordStale):
				unauthorized(w, r, "session no longer valid")
			case errors.Is(err, auth.ErrAccountInactive):
				unauthorized(w, r, "account is not active")
			case errors.Is(err, auth.ErrAccountLocked):
				unauthorized(w, r, "account temporarily locked")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), ac)))
	})
}

// optionalAuth attaches an identity when a valid token is present and
// passes the request through untouched otherwise.
func (a *API) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := a.extractToken(r); token != "" {
			if ac, ok := a.svc.OptionalAuthenticate(r.Context(), token); ok {
				r = r.WithContext(auth.ContextWithAuth(r.Context(), ac))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="reportvault"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
