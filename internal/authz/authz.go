// Package authz evaluates authorization decisions for resolved principals.
// The predicates are pure functions with no side effects: callers denying a
// sensitive mutation are responsible for emitting the audit entry.
package authz

import "github.com/aegis-iam/aegis-iam/internal/identity"

// HasRole reports whether roleName is among the principal's resolved roles.
// A nil principal holds no roles.
func HasRole(ident *identity.Identity, roleName string) bool {
	if ident == nil {
		return false
	}
	for _, r := range ident.Roles {
		if r == roleName {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of the roles.
func HasAnyRole(ident *identity.Identity, roleNames ...string) bool {
	for _, name := range roleNames {
		if HasRole(ident, name) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the permission is in the principal's derived
// permission set.
func HasPermission(ident *identity.Identity, permName string) bool {
	if ident == nil {
		return false
	}
	for _, p := range ident.Permissions {
		if p == permName {
			return true
		}
	}
	return false
}

// IsOwner reports whether the principal's own identity corresponds to
// resourceOwnerID. This is the self-access rule for profile-style endpoints.
func IsOwner(ident *identity.Identity, resourceOwnerID int64) bool {
	return ident != nil && ident.UserID == resourceOwnerID
}
