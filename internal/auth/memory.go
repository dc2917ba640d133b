package auth

import (
	"context"
	"sync"
	"time"

	"reportvault.org/internal/ids"
)

// MemoryStore implements Store with in-process concurrency safety. Used
// when no database is configured and throughout the test suite. Every
// lockout transition runs under the store mutex, so the same atomicity
// contract holds as for the SQL implementation.
type MemoryStore struct {
	mu sync.RWMutex

	users     map[string]*User
	emails    map[string]string
	usernames map[string]string

	roles     map[string]*Role
	roleNames map[string]string
	userRoles map[string][]string

	perms map[string]Permission

	audit []*AuditRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		emails:    make(map[string]string),
		usernames: make(map[string]string),
		roles:     make(map[string]*Role),
		roleNames: make(map[string]string),
		userRoles: make(map[string][]string),
		perms:     make(map[string]Permission),
	}
}

func (s *MemoryStore) Users(context.Context) UserStore             { return (*memoryUsers)(s) }
func (s *MemoryStore) Roles(context.Context) RoleStore             { return (*memoryRoles)(s) }
func (s *MemoryStore) Permissions(context.Context) PermissionStore { return (*memoryPerms)(s) }
func (s *MemoryStore) Audit(context.Context) AuditStore            { return (*memoryAudit)(s) }

// AuditRecords returns a copy of the appended records, oldest first.
func (s *MemoryStore) AuditRecords() []*AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, len(s.audit))
	copy(out, s.audit)
	return out
}

// User store ---------------------------------------------------------------

type memoryUsers MemoryStore

func (s *memoryUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, exists := s.emails[u.Email]; exists {
		return ErrConflict
	}
	if _, exists := s.usernames[u.Username]; exists {
		return ErrConflict
	}
	cp := *u
	s.users[u.ID] = &cp
	s.emails[u.Email] = u.ID
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *memoryUsers) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memoryUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *memoryUsers) UpdatePassword(_ context.Context, userID, passwordHash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	at := changedAt
	u.PasswordChangedAt = &at
	u.UpdatedAt = changedAt
	return nil
}

func (s *memoryUsers) RecordLoginFailure(_ context.Context, userID string, policy LockoutPolicy, now time.Time) (LockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return LockState{}, ErrNotFound
	}
	state := policy.RecordFailure(u.LockState(), now)
	u.FailedLoginAttempts = state.FailedAttempts
	u.LockedUntil = state.LockedUntil
	u.UpdatedAt = now
	return state, nil
}

func (s *memoryUsers) RecordLoginSuccess(_ context.Context, userID, clientIP string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	last := at
	u.LastLogin = &last
	u.LastLoginIP = clientIP
	u.UpdatedAt = at
	return nil
}

func (s *memoryUsers) SetTwoFactor(_ context.Context, userID string, enabled bool, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TwoFactorEnabled = enabled
	u.TwoFactorSecret = secret
	return nil
}

// Role store ---------------------------------------------------------------

type memoryRoles MemoryStore

func (s *memoryRoles) FindByName(_ context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleNames[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRole(s.roles[id]), nil
}

func (s *memoryRoles) RolesForUser(_ context.Context, userID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Role
	for _, roleID := range s.userRoles[userID] {
		if role, ok := s.roles[roleID]; ok {
			out = append(out, *cloneRole(role))
		}
	}
	return out, nil
}

func (s *memoryRoles) Assign(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.userRoles[userID] {
		if existing == roleID {
			return nil
		}
	}
	s.userRoles[userID] = append(s.userRoles[userID], roleID)
	return nil
}

func (s *memoryRoles) Ensure(_ context.Context, name, description string, permissionNames []string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.roleNames[name]; ok {
		return cloneRole(s.roles[id]), nil
	}
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	for _, permName := range permissionNames {
		perm, ok := s.perms[permName]
		if !ok {
			perm = Permission{ID: ids.New(), Name: permName, CreatedAt: time.Now().UTC()}
			s.perms[permName] = perm
		}
		role.Permissions = append(role.Permissions, perm)
	}
	s.roles[role.ID] = role
	s.roleNames[name] = role.ID
	return cloneRole(role), nil
}

func cloneRole(role *Role) *Role {
	cp := *role
	cp.Permissions = make([]Permission, len(role.Permissions))
	copy(cp.Permissions, role.Permissions)
	return &cp
}

// Permission store ---------------------------------------------------------

type memoryPerms MemoryStore

func (s *memoryPerms) Ensure(_ context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, exists := s.perms[p.Name]; exists {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		s.perms[p.Name] = p
	}
	return nil
}

func (s *memoryPerms) List(_ context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

// Audit store --------------------------------------------------------------

type memoryAudit MemoryStore

func (s *memoryAudit) Append(_ context.Context, record *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.audit = append(s.audit, &cp)
	return nil
}
