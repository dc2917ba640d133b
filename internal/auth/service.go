package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"reportvault.org/internal/ids"
	"reportvault.org/internal/obs"
)

// Audit action tags for security-relevant events.
const (
	AuditLogin             = "login"
	AuditLoginFailed       = "login_failed"
	AuditAccountLocked     = "account_locked"
	AuditLogout            = "logout"
	AuditPasswordChanged   = "password_changed"
	AuditRegistered        = "register"
	AuditTwoFactorEnrolled = "two_factor_enrolled"
	AuditPermissionDenied  = "permission_denied"
)

const minPasswordLength = 8

// Service orchestrates credential verification, lockout, token issuance and
// permission resolution over a Store. All policy values are injected at
// construction; the service reads no ambient configuration.
type Service struct {
	store      Store
	tokens     *TokenIssuer
	lockout    LockoutPolicy
	bcryptCost int
	now        func() time.Time

	registrationOpen bool
	twoFactorEnabled bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithLockoutPolicy overrides the default lockout policy.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) {
		if p.Threshold > 0 && p.Duration > 0 {
			s.lockout = p
		}
	}
}

// WithBcryptCost overrides the hashing cost factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRegistration toggles the self-registration path.
func WithRegistration(enabled bool) ServiceOption {
	return func(s *Service) { s.registrationOpen = enabled }
}

// WithTwoFactor toggles TOTP verification during login for enrolled users.
func WithTwoFactor(enabled bool) ServiceOption {
	return func(s *Service) { s.twoFactorEnabled = enabled }
}

// NewService constructs a Service.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{
		store:      store,
		tokens:     tokens,
		lockout:    DefaultLockoutPolicy(),
		bcryptCost: 10,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins provisions the permission catalog and the default roles.
// Existing roles are left untouched.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	if err := s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return err
	}
	roles := s.store.Roles(ctx)
	defaults := []struct {
		name, description string
		permissions       []string
	}{
		{RoleSuperAdmin, "Unrestricted access to every capability", nil},
		{RoleAdmin, "Full repository administration", []string{
			PermReportView, PermReportUpload, PermReportUpdate, PermReportDelete,
			PermReportDownload, PermCategoryManage, PermUserView, PermUserManage,
			PermRoleManage, PermAuditView, PermDashboardView,
		}},
		{RoleUser, "Standard repository access", []string{
			PermReportView, PermReportUpload, PermReportDownload, PermDashboardView,
		}},
	}
	for _, d := range defaults {
		if _, err := roles.Ensure(ctx, d.name, d.description, d.permissions); err != nil {
			return err
		}
	}
	return nil
}

// LoginRequest carries login credentials plus client metadata for auditing.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
	ClientIP      string
	UserAgent     string
}

// LogoutRequest identifies the principal ending its session.
type LogoutRequest struct {
	UserID    string
	ClientIP  string
	UserAgent string
}

// ChangePasswordRequest rotates a principal's password.
type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	ClientIP        string
	UserAgent       string
}

// RegisterRequest creates a new account through the self-service path.
type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	ClientIP  string
	UserAgent string
}

// Session is an issued token with its expiry.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Login authenticates credentials and issues a session token. Lookup is a
// case-sensitive exact match on the stored email; an unknown email and a
// wrong password yield the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, Principal, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		obs.ObserveLogin("invalid_credentials")
		return Session{}, Principal{}, ErrInvalidCredentials
	}

	users := s.store.Users(ctx)
	user, err := users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("invalid_credentials")
			s.appendAudit(ctx, &AuditRecord{
				Action:      AuditLoginFailed,
				Description: "login failed: unknown email",
				IPAddress:   req.ClientIP,
				UserAgent:   req.UserAgent,
			})
			return Session{}, Principal{}, ErrInvalidCredentials
		}
		return Session{}, Principal{}, err
	}

	now := s.now()
	if s.lockout.Locked(user.LockState(), now) {
		obs.ObserveLogin("locked")
		s.appendAudit(ctx, &AuditRecord{
			ActorID:     user.ID,
			Action:      AuditLoginFailed,
			Description: "login rejected: account locked",
			IPAddress:   req.ClientIP,
			UserAgent:   req.UserAgent,
		})
		return Session{}, Principal{}, ErrAccountLocked
	}

	if user.Status != StatusActive {
		obs.ObserveLogin("inactive")
		s.appendAudit(ctx, &AuditRecord{
			ActorID:     user.ID,
			Action:      AuditLoginFailed,
			Description: "login rejected: account not active",
			IPAddress:   req.ClientIP,
			UserAgent:   req.UserAgent,
		})
		return Session{}, Principal{}, ErrAccountInactive
	}

	if err := VerifyPassword(user.PasswordHash, req.Password); err != nil {
		return Session{}, Principal{}, s.failLogin(ctx, user, req, "wrong password")
	}

	if s.twoFactorEnabled && user.TwoFactorEnabled {
		code := strings.TrimSpace(req.TwoFactorCode)
		if code == "" {
			return Session{}, Principal{}, ErrTwoFactorRequired
		}
		if !totp.Validate(code, user.TwoFactorSecret) {
			return Session{}, Principal{}, s.failLogin(ctx, user, req, "invalid two-factor code")
		}
	}

	if err := users.RecordLoginSuccess(ctx, user.ID, req.ClientIP, now); err != nil {
		return Session{}, Principal{}, err
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil

	principal, err := s.principal(ctx, user)
	if err != nil {
		return Session{}, Principal{}, err
	}
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, Principal{}, err
	}

	obs.ObserveLogin("success")
	s.appendAudit(ctx, &AuditRecord{
		ActorID:     user.ID,
		Action:      AuditLogin,
		Description: "user logged in",
		IPAddress:   req.ClientIP,
		UserAgent:   req.UserAgent,
	})
	return Session{Token: token, ExpiresAt: expiresAt}, principal, nil
}

// failLogin records a failed attempt through the store's atomic transition
// and reports whether the attempt armed a lock.
func (s *Service) failLogin(ctx context.Context, user *User, req LoginRequest, reason string) error {
	state, err := s.store.Users(ctx).RecordLoginFailure(ctx, user.ID, s.lockout, s.now())
	if err != nil {
		return err
	}
	obs.ObserveLogin("invalid_credentials")
	s.appendAudit(ctx, &AuditRecord{
		ActorID:     user.ID,
		Action:      AuditLoginFailed,
		Description: "login failed: " + reason,
		IPAddress:   req.ClientIP,
		UserAgent:   req.UserAgent,
	})
	// A locked result means the lock is now armed. Concurrent attempts can
	// race past Login's lock check and duplicate this record; that is audit
	// noise only, the counter itself never loses an increment.
	if s.lockout.Locked(state, s.now()) {
		obs.ObserveLockout()
		s.appendAudit(ctx, &AuditRecord{
			ActorID:     user.ID,
			Action:      AuditAccountLocked,
			Description: "account locked after repeated failed logins",
			IPAddress:   req.ClientIP,
			UserAgent:   req.UserAgent,
		})
	}
	return ErrInvalidCredentials
}

// Logout records the event. Tokens are stateless, so there is nothing to
// revoke server-side.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) error {
	s.appendAudit(ctx, &AuditRecord{
		ActorID:     req.UserID,
		Action:      AuditLogout,
		Description: "user logged out",
		IPAddress:   req.ClientIP,
		UserAgent:   req.UserAgent,
	})
	return nil
}

// ChangePassword verifies the current password, persists the new hash and
// stamps password_changed_at, which invalidates every token issued before
// the change. A fresh session is returned so the caller stays signed in.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (Session, error) {
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, req.UserID)
	if err != nil {
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if len(req.NewPassword) < minPasswordLength {
		return Session{}, ErrInvalidInput
	}
	hash, err := HashPassword(req.NewPassword, s.bcryptCost)
	if err != nil {
		return Session{}, err
	}
	// JWT iat carries whole-second precision, so the change stamp must use
	// the same granularity or the session issued below would read as stale.
	changedAt := s.now().Truncate(time.Second)
	if err := users.UpdatePassword(ctx, user.ID, hash, changedAt); err != nil {
		return Session{}, err
	}
	s.appendAudit(ctx, &AuditRecord{
		ActorID:     user.ID,
		Action:      AuditPasswordChanged,
		Description: "user changed password",
		IPAddress:   req.ClientIP,
		UserAgent:   req.UserAgent,
	})
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt}, nil
}

// Register creates an account through the self-service path when enabled,
// assigning the default role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, Principal, error) {
	if !s.registrationOpen {
		return Session{}, Principal{}, ErrRegistrationDisabled
	}
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if len(username) < 3 || !strings.Contains(email, "@") {
		return Session{}, Principal{}, ErrInvalidInput
	}
	if len(req.Password) < minPasswordLength {
		return Session{}, Principal{}, ErrInvalidInput
	}
	hash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return Session{}, Principal{}, err
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return Session{}, Principal{}, err
	}

	roles := s.store.Roles(ctx)
	if defaultRole, err := roles.FindByName(ctx, RoleUser); err == nil {
		if err := roles.Assign(ctx, user.ID, defaultRole.ID); err != nil {
			return Session{}, Principal{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, Principal{}, err
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		return Session{}, Principal{}, err
	}
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, Principal{}, err
	}
	s.appendAudit(ctx, &AuditRecord{
		ActorID:     user.ID,
		Action:      AuditRegistered,
		Description: "user registered",
		IPAddress:   req.ClientIP,
		UserAgent:   req.UserAgent,
	})
	return Session{Token: token, ExpiresAt: expiresAt}, principal, nil
}

// EnrollTwoFactor generates a TOTP secret for the user and enables the
// second factor. The otpauth URL is returned for QR provisioning.
func (s *Service) EnrollTwoFactor(ctx context.Context, userID string) (secret, url string, err error) {
	if !s.twoFactorEnabled {
		return "", "", ErrTwoFactorDisabled
	}
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return "", "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "reportvault",
		AccountName: user.Email,
	})
	if err != nil {
		return "", "", err
	}
	if err := users.SetTwoFactor(ctx, user.ID, true, key.Secret()); err != nil {
		return "", "", err
	}
	s.appendAudit(ctx, &AuditRecord{
		ActorID:     user.ID,
		Action:      AuditTwoFactorEnrolled,
		Description: "two-factor authentication enrolled",
	})
	return key.Secret(), key.URL(), nil
}

// TokenStillValid reports whether a token issued at issuedAt is still
// honored for the user. A password change invalidates every earlier token;
// this is the only revocation mechanism.
func TokenStillValid(user *User, issuedAt time.Time) bool {
	if user.PasswordChangedAt == nil {
		return true
	}
	return !user.PasswordChangedAt.After(issuedAt)
}

// Authenticate is the request gateway: it verifies the raw token, loads the
// identity, checks account state and resolves permissions into a typed
// AuthContext.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (AuthContext, error) {
	claims, err := s.tokens.Verify(rawToken)
	if err != nil {
		obs.ObserveTokenVerification("invalid")
		return AuthContext{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveTokenVerification("invalid")
			return AuthContext{}, ErrInvalidToken
		}
		return AuthContext{}, err
	}
	if user.Status != StatusActive {
		obs.ObserveTokenVerification("invalid")
		return AuthContext{}, ErrAccountInactive
	}
	if s.lockout.Locked(user.LockState(), s.now()) {
		obs.ObserveTokenVerification("invalid")
		return AuthContext{}, ErrAccountLocked
	}
	if !TokenStillValid(user, claims.IssuedAt) {
		obs.ObserveTokenVerification("stale")
		return AuthContext{}, ErrPasswordStale
	}
	principal, err := s.principal(ctx, user)
	if err != nil {
		return AuthContext{}, err
	}
	obs.ObserveTokenVerification("ok")
	return AuthContext{Principal: principal, Token: rawToken, IssuedAt: claims.IssuedAt}, nil
}

// OptionalAuthenticate runs the same gateway pipeline but never rejects:
// any failure yields no principal.
func (s *Service) OptionalAuthenticate(ctx context.Context, rawToken string) (AuthContext, bool) {
	if strings.TrimSpace(rawToken) == "" {
		return AuthContext{}, false
	}
	ac, err := s.Authenticate(ctx, rawToken)
	if err != nil {
		return AuthContext{}, false
	}
	return ac, true
}

// PrincipalByID loads a user with resolved roles and permissions.
func (s *Service) PrincipalByID(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return s.principal(ctx, user)
}

func (s *Service) principal(ctx context.Context, user *User) (Principal, error) {
	roles, err := s.store.Roles(ctx).RolesForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, roles), nil
}

// ListPermissions returns the full permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions(ctx).List(ctx)
}

// AppendAudit records a security-relevant event on behalf of a caller.
func (s *Service) AppendAudit(ctx context.Context, record *AuditRecord) {
	s.appendAudit(ctx, record)
}

// appendAudit writes to the activity log. A write failure must not block
// the triggering action: it is reported to the operational log and dropped.
func (s *Service) appendAudit(ctx context.Context, record *AuditRecord) {
	if record.ID == "" {
		record.ID = ids.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	if err := s.store.Audit(ctx).Append(ctx, record); err != nil {
		obs.LogRequest(map[string]any{
			"level":  "error",
			"msg":    "audit write failed",
			"action": record.Action,
			"error":  err.Error(),
		})
	}
}
