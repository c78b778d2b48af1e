package rbac

import "time"

// Permission represents an atomic named capability. Immutable once created.
type Permission struct {
	ID   int64
	Name string
}

// Role represents a named bundle of permissions assignable to a user.
// The permission set is deduplicated by permission identity.
type Role struct {
	ID          int64
	Name        string
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Well-known role names seeded at bootstrap.
const (
	RoleUser      = "USER"
	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
)

// Well-known permission names seeded at bootstrap.
const (
	PermUserRead  = "USER_READ"
	PermUserWrite = "USER_WRITE"
	PermRoleRead  = "ROLE_READ"
	PermRoleWrite = "ROLE_WRITE"
)

// PermissionNames returns the role's permission names as a plain slice.
func (r Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	return names
}
