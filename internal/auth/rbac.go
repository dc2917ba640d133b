package auth

import (
	"fmt"
	"sort"
	"strings"
)

// PermissionSet is the effective permission set of a principal, resolved
// once at load time. It is a closed variant: either the superuser marker
// (universal set, never an enumeration) or a deduplicated name set. The
// superuser bypass is decided here and nowhere else; call sites branch on
// the resolved set, not on role-name strings.
type PermissionSet struct {
	all   bool
	names map[string]struct{}
}

// SuperuserPermissions returns the universal set.
func SuperuserPermissions() PermissionSet {
	return PermissionSet{all: true}
}

// NewPermissionSet builds a set from permission names, deduplicated.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return PermissionSet{names: set}
}

// ResolvePermissions computes the effective set for the given roles. Any
// role named RoleSuperAdmin yields the universal set; otherwise the
// permission names across all roles are unioned.
func ResolvePermissions(roles []Role) PermissionSet {
	names := make([]string, 0, 8)
	for _, role := range roles {
		if role.Name == RoleSuperAdmin {
			return SuperuserPermissions()
		}
		for _, perm := range role.Permissions {
			names = append(names, perm.Name)
		}
	}
	return NewPermissionSet(names...)
}

// Superuser reports whether the set is the universal marker.
func (s PermissionSet) Superuser() bool { return s.all }

// Allows reports whether the set authorizes the named capability. The
// universal set authorizes every name, including ones never enumerated.
func (s PermissionSet) Allows(name string) bool {
	if s.all {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// AllowsAny reports whether the set intersects the required names
// (OR semantics: one match suffices).
func (s PermissionSet) AllowsAny(names ...string) bool {
	if s.all {
		return true
	}
	for _, name := range names {
		if _, ok := s.names[name]; ok {
			return true
		}
	}
	return false
}

// Names returns the enumerated permission names, sorted. Empty for the
// universal set, which has no enumeration.
func (s PermissionSet) Names() []string {
	if s.all || len(s.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Principal is an authenticated identity with resolved roles and
// permissions.
type Principal struct {
	User        *User
	Roles       []Role
	Permissions PermissionSet
}

// NewPrincipal resolves the permission set for a user and its roles.
func NewPrincipal(user *User, roles []Role) Principal {
	return Principal{User: user, Roles: roles, Permissions: ResolvePermissions(roles)}
}

// HasAnyRole reports whether the principal's role names intersect the
// required names.
func (p Principal) HasAnyRole(names ...string) bool {
	for _, role := range p.Roles {
		for _, name := range names {
			if role.Name == name {
				return true
			}
		}
	}
	return false
}

// OwnsOrIsAdmin reports whether the principal may act on a resource owned
// by ownerID: admins (and superusers) always may, everyone else only on
// their own resources.
func (p Principal) OwnsOrIsAdmin(ownerID string) bool {
	if p.HasAnyRole(RoleSuperAdmin, RoleAdmin) {
		return true
	}
	return p.User != nil && ownerID != "" && p.User.ID == ownerID
}

// PermissionDeniedError carries the required capabilities for diagnostics;
// the denial itself is a boolean outcome, never silently swallowed.
type PermissionDeniedError struct {
	Required []string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("auth: permission denied, requires one of: %s", strings.Join(e.Required, ", "))
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// RoleDeniedError carries the required role names for diagnostics.
type RoleDeniedError struct {
	Required []string
}

func (e *RoleDeniedError) Error() string {
	return fmt.Sprintf("auth: role denied, requires one of: %s", strings.Join(e.Required, ", "))
}

func (e *RoleDeniedError) Is(target error) bool { return target == ErrRoleDenied }

// RequirePermission returns nil when the principal holds at least one of
// the required permissions.
func RequirePermission(p Principal, permissions ...string) error {
	if p.Permissions.AllowsAny(permissions...) {
		return nil
	}
	return &PermissionDeniedError{Required: permissions}
}

// RequireRole returns nil when the principal holds at least one of the
// required roles.
func RequireRole(p Principal, roles ...string) error {
	if p.HasAnyRole(roles...) {
		return nil
	}
	return &RoleDeniedError{Required: roles}
}

// RequireOwnershipOrAdmin returns nil when the principal owns the resource
// or holds an admin role.
func RequireOwnershipOrAdmin(p Principal, ownerID string) error {
	if p.OwnsOrIsAdmin(ownerID) {
		return nil
	}
	return ErrOwnershipDenied
}
