package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core depends on.
// Principal, role and permission provisioning beyond the hooks below is an
// administrative path outside this core.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Audit(ctx context.Context) AuditStore
}

// UserStore manages user records. RecordLoginFailure and RecordLoginSuccess
// are the only two lockout transitions and must each apply as one isolated
// write: two concurrent failures against the same row must both be counted.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error

	// RecordLoginFailure atomically increments the failure counter and arms
	// the lock per the policy, returning the resulting state.
	RecordLoginFailure(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LockState, error)
	// RecordLoginSuccess resets the counter, clears the lock and stamps
	// last-login metadata.
	RecordLoginSuccess(ctx context.Context, userID, clientIP string, at time.Time) error

	SetTwoFactor(ctx context.Context, userID string, enabled bool, secret string) error
}

// RoleStore reads role assignments. Ensure exists so startup can provision
// the default roles; it never modifies an existing role.
type RoleStore interface {
	FindByName(ctx context.Context, name string) (*Role, error)
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	Assign(ctx context.Context, userID, roleID string) error
	Ensure(ctx context.Context, name, description string, permissionNames []string) (*Role, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
}

// AuditStore appends immutable records. There is no update or delete.
type AuditStore interface {
	Append(ctx context.Context, record *AuditRecord) error
}
