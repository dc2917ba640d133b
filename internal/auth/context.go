package auth

import (
	"context"
	"time"
)

// AuthContext is the typed value the gateway attaches to a request after a
// successful authentication. Downstream handlers receive it explicitly via
// the context helpers below; there is no untyped request bag.
type AuthContext struct {
	Principal Principal
	Token     string
	IssuedAt  time.Time
}

type authContextKey struct{}

// ContextWithAuth attaches the authenticated context.
func ContextWithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, &ac)
}

// AuthFromContext extracts the authenticated context, if present.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	if ctx == nil {
		return AuthContext{}, false
	}
	v, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok || v == nil {
		return AuthContext{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	ac, ok := AuthFromContext(ctx)
	if !ok || ac.Principal.User == nil {
		return "", false
	}
	return ac.Principal.User.ID, true
}
