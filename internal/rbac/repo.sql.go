package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis-iam/internal/platform/db"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

const uniqueViolation = "23505"

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for roles and permissions.
type Repository struct {
	q    DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a pool backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool, pool: pool}
}

// NewTxRepository constructs a repository scoped to an open transaction.
// All operations run in the caller's transaction; ReplacePermissions relies
// on the caller for atomicity.
func NewTxRepository(tx pgx.Tx) *Repository {
	return &Repository{q: tx}
}

// FindOrCreatePermission returns the permission with the given name, creating
// it if absent. A uniqueness violation from a racing writer resolves by
// re-lookup, never as an error.
func (r *Repository) FindOrCreatePermission(ctx context.Context, name string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}

	perm, err := r.permissionByName(ctx, name)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Permission{}, err
	}

	err = r.q.QueryRow(ctx, `INSERT INTO permissions (name) VALUES ($1) RETURNING id, name`, name).
		Scan(&perm.ID, &perm.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return r.permissionByName(ctx, name)
		}
		return Permission{}, fmt.Errorf("rbac: create permission: %w", err)
	}
	return perm, nil
}

// FindOrCreateRole returns the role with the given name, creating it with an
// empty permission set if absent. Same race contract as FindOrCreatePermission.
func (r *Repository) FindOrCreateRole(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}

	role, err := r.roleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Role{}, err
	}

	err = r.q.QueryRow(ctx, `INSERT INTO roles (name) VALUES ($1) RETURNING id, name, created_at, updated_at`, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return r.roleByName(ctx, name)
		}
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	return role, nil
}

// GetRole fetches a role and its permission set by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.q.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
		}
		return Role{}, err
	}
	role.Permissions, err = r.rolePermissions(ctx, id)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles with their permission sets, ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// ReplacePermissions atomically replaces the role's permission set after
// validating every referenced id.
func (r *Repository) ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	if r.pool == nil {
		if err := r.replacePermissions(ctx, r.q, roleID, permissionIDs); err != nil {
			return Role{}, err
		}
		return r.GetRole(ctx, roleID)
	}
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.replacePermissions(ctx, tx, roleID, permissionIDs)
	})
	if err != nil {
		return Role{}, err
	}
	return r.GetRole(ctx, roleID)
}

func (r *Repository) replacePermissions(ctx context.Context, q DBTX, roleID int64, permissionIDs []int64) error {
	if err := roleExists(ctx, q, roleID); err != nil {
		return err
	}
	if err := validatePermissionIDs(ctx, q, permissionIDs); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("rbac: clear role permissions: %w", err)
	}
	for _, permID := range permissionIDs {
		if _, err := q.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, permID); err != nil {
			return fmt.Errorf("rbac: attach permission %d: %w", permID, err)
		}
	}
	_, err := q.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
	return err
}

// AddPermissions merges permissions into the role. Existing entries stay.
func (r *Repository) AddPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := roleExists(ctx, r.q, roleID); err != nil {
		return err
	}
	if err := validatePermissionIDs(ctx, r.q, permissionIDs); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := r.q.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, permID); err != nil {
			return fmt.Errorf("rbac: attach permission %d: %w", permID, err)
		}
	}
	return nil
}

// AssignRole assigns a role to the given user.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	if err := roleExists(ctx, r.q, roleID); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	return err
}

// RemoveRole removes a role from a user.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// RoleNamesForUser returns the names of all roles assigned to the user.
func (r *Repository) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// PermissionNamesForUser returns the deduplicated union of permission names
// across the user's roles.
func (r *Repository) PermissionNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = $1
		 ORDER BY p.name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *Repository) permissionByName(ctx context.Context, name string) (Permission, error) {
	var perm Permission
	err := r.q.QueryRow(ctx, `SELECT id, name FROM permissions WHERE name = $1`, name).
		Scan(&perm.ID, &perm.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

func (r *Repository) roleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.q.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	role.Permissions, err = r.rolePermissions(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (r *Repository) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.q.Query(ctx,
		`SELECT p.id, p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.name`,
		roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func roleExists(ctx context.Context, q DBTX, roleID int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("rbac: role %d: %w", roleID, shared.ErrNotFound)
	}
	return nil
}

// validatePermissionIDs fails with ErrReferenceNotFound naming the first
// missing id, before any mutation happens.
func validatePermissionIDs(ctx context.Context, q DBTX, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, permID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return shared.ReferenceNotFound("permission", permID)
		}
	}
	return nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
