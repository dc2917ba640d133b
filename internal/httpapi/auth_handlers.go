package httpapi

import (
	"errors"
	"net/http"
	"time"

	"reportvault.org/internal/audit"
	"reportvault.org/internal/auth"
)

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      map[string]any `json:"user,omitempty"`
}

func userPayload(p auth.Principal) map[string]any {
	if p.User == nil {
		return nil
	}
	roles := make([]string, 0, len(p.Roles))
	for _, role := range p.Roles {
		roles = append(roles, role.Name)
	}
	payload := map[string]any{
		"id":        p.User.ID,
		"username":  p.User.Username,
		"email":     p.User.Email,
		"status":    p.User.Status,
		"roles":     roles,
		"superuser": p.Permissions.Superuser(),
	}
	// Names() is nil for a superuser: the set is universal, not enumerable.
	if names := p.Permissions.Names(); names != nil {
		payload["permissions"] = names
	}
	return payload
}

func (a *API) setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(a.cookieTTL),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, principal, err := a.svc.Login(r.Context(), auth.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		ClientIP:      clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": principal.User.ID,
	})
	a.setSessionCookie(w, r, session.Token)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      userPayload(principal),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ac, _ := auth.AuthFromContext(r.Context())
	err := a.svc.Logout(r.Context(), auth.LogoutRequest{
		UserID:    ac.Principal.User.ID,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ac, _ := auth.AuthFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(ac.Principal)})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ac, _ := auth.AuthFromContext(r.Context())
	session, err := a.svc.ChangePassword(r.Context(), auth.ChangePasswordRequest{
		UserID:          ac.Principal.User.ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ClientIP:        clientIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	// The old token is now stale; hand the fresh one back so the client
	// stays signed in.
	a.setSessionCookie(w, r, session.Token)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, principal, err := a.svc.Register(r.Context(), auth.RegisterRequest{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": principal.User.ID,
	})
	a.setSessionCookie(w, r, session.Token)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      userPayload(principal),
	})
}

func (a *API) handleTwoFactorEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ac, _ := auth.AuthFromContext(r.Context())
	secret, url, err := a.svc.EnrollTwoFactor(r.Context(), ac.Principal.User.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":      secret,
		"otpauth_url": url,
	})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTwoFactorRequired):
		writeError(w, r, http.StatusUnauthorized, "two-factor code required")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, "account temporarily locked")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account is not active")
	case errors.Is(err, auth.ErrRegistrationDisabled):
		writeError(w, r, http.StatusForbidden, "registration is disabled")
	case errors.Is(err, auth.ErrTwoFactorDisabled):
		writeError(w, r, http.StatusForbidden, "two-factor authentication is disabled")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid input")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
