package rbac

import "context"

// Store defines persistence for roles and permissions.
//
// FindOrCreate operations are idempotent: concurrent callers racing on the
// same name resolve to a single row, enforced by a store-level uniqueness
// constraint rather than application locking.
type Store interface {
	FindOrCreatePermission(ctx context.Context, name string) (Permission, error)
	FindOrCreateRole(ctx context.Context, name string) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	// ReplacePermissions validates every referenced permission id and
	// atomically replaces the role's permission set. A missing id fails the
	// whole call with shared.ErrReferenceNotFound and leaves the role
	// untouched.
	ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error)

	// AddPermissions merges permissions into the role without removing
	// existing entries. Re-running only grows the set.
	AddPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error

	// RoleNamesForUser returns the names of all roles assigned to the user.
	RoleNamesForUser(ctx context.Context, userID int64) ([]string, error)

	// PermissionNamesForUser returns the deduplicated union of permission
	// names across all of the user's roles.
	PermissionNamesForUser(ctx context.Context, userID int64) ([]string, error)
}
