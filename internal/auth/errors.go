package auth

import "errors"

var (
	// Credential and session failures. ErrInvalidCredentials covers both an
	// unknown email and a wrong password so that account existence is never
	// revealed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account temporarily locked")
	ErrAccountInactive    = errors.New("auth: account is not active")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrPasswordStale      = errors.New("auth: token predates password change")
	ErrTwoFactorRequired  = errors.New("auth: two-factor code required")

	// Authorization failures.
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrRoleDenied       = errors.New("auth: role denied")
	ErrOwnershipDenied  = errors.New("auth: ownership denied")

	// Operational failures.
	ErrAuditWriteFailed     = errors.New("auth: audit write failed")
	ErrRegistrationDisabled = errors.New("auth: registration is disabled")
	ErrTwoFactorDisabled    = errors.New("auth: two-factor authentication is disabled")
	ErrNotFound             = errors.New("auth: not found")
	ErrConflict             = errors.New("auth: already exists")
	ErrInvalidInput         = errors.New("auth: invalid input")
)
