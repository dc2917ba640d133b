package auth

import "time"

// User account statuses.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Distinguished role names. "Super Admin" bypasses permission checks
// entirely; "Admin" additionally bypasses ownership checks.
const (
	RoleSuperAdmin = "Super Admin"
	RoleAdmin      = "Admin"
	RoleUser       = "User"
)

// User represents an account that can authenticate against the repository.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Status       string

	TwoFactorEnabled bool
	TwoFactorSecret  string

	FailedLoginAttempts int
	LockedUntil         *time.Time
	PasswordChangedAt   *time.Time
	LastLogin           *time.Time
	LastLoginIP         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockState projects the fields the lockout policy operates on.
func (u *User) LockState() LockState {
	return LockState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}
}

// Role groups permissions under a unique name.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a dot-namespaced capability string. Category groups
// permissions for display only and has no behavioral effect.
type Permission struct {
	ID          string
	Name        string
	Description string
	Category    string
	CreatedAt   time.Time
}

// AuditRecord is an immutable entry in the activity log. ActorID is empty
// for anonymous events (for example a failed login against an unknown email).
type AuditRecord struct {
	ID          string
	ActorID     string
	Action      string
	EntityType  string
	EntityID    string
	Description string
	IPAddress   string
	UserAgent   string
	Changes     map[string]any
	CreatedAt   time.Time
}
