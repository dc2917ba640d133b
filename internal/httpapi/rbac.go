package httpapi

import (
	"net/http"

	"reportvault.org/internal/auth"
)

// requirePermission gates a handler behind the authorization check. The
// principal needs any one of the named permissions; a superuser passes
// regardless. Must run inside requireAuth.
func (a *API) requirePermission(next http.Handler, perms ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.AuthFromContext(r.Context())
		if !ok {
			unauthorized(w, r, "authentication required")
			return
		}
		if err := auth.RequirePermission(ac.Principal, perms...); err != nil {
			a.denied(w, r, ac, map[string]any{"required_permissions": perms})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole gates a handler behind role membership.
func (a *API) requireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.AuthFromContext(r.Context())
		if !ok {
			unauthorized(w, r, "authentication required")
			return
		}
		if err := auth.RequireRole(ac.Principal, roles...); err != nil {
			a.denied(w, r, ac, map[string]any{"required_roles": roles})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// denied records the refusal in the activity log and answers 403.
func (a *API) denied(w http.ResponseWriter, r *http.Request, ac auth.AuthContext, detail map[string]any) {
	record := &auth.AuditRecord{
		Action:      auth.AuditPermissionDenied,
		Description: "access denied: " + r.Method + " " + r.URL.Path,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Changes:     detail,
	}
	if ac.Principal.User != nil {
		record.ActorID = ac.Principal.User.ID
	}
	a.svc.AppendAudit(r.Context(), record)

	payload := map[string]any{"error": "forbidden"}
	for k, v := range detail {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}
