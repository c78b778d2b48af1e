package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aegis-iam/aegis-iam/internal/shared"
)

// MemStore is an in-memory Store used by tests and local tooling. It honors
// the same contracts as the SQL repository, including safe concurrent use.
type MemStore struct {
	mu        sync.RWMutex
	nextID    int64
	perms     map[int64]Permission
	permNames map[string]int64
	roles     map[int64]*memRole
	roleNames map[string]int64
	userRoles map[int64]map[int64]struct{}
}

type memRole struct {
	role    Role
	permIDs map[int64]struct{}
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		perms:     make(map[int64]Permission),
		permNames: make(map[string]int64),
		roles:     make(map[int64]*memRole),
		roleNames: make(map[string]int64),
		userRoles: make(map[int64]map[int64]struct{}),
	}
}

// FindOrCreatePermission implements Store.
func (m *MemStore) FindOrCreatePermission(_ context.Context, name string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.permNames[name]; ok {
		return m.perms[id], nil
	}
	m.nextID++
	perm := Permission{ID: m.nextID, Name: name}
	m.perms[perm.ID] = perm
	m.permNames[name] = perm.ID
	return perm, nil
}

// FindOrCreateRole implements Store.
func (m *MemStore) FindOrCreateRole(_ context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.roleNames[name]; ok {
		return m.materializeRole(id), nil
	}
	m.nextID++
	now := time.Now()
	m.roles[m.nextID] = &memRole{
		role:    Role{ID: m.nextID, Name: name, CreatedAt: now, UpdatedAt: now},
		permIDs: make(map[int64]struct{}),
	}
	m.roleNames[name] = m.nextID
	return m.materializeRole(m.nextID), nil
}

// GetRole implements Store.
func (m *MemStore) GetRole(_ context.Context, id int64) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[id]; !ok {
		return Role{}, shared.ErrNotFound
	}
	return m.materializeRole(id), nil
}

// ListRoles implements Store.
func (m *MemStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for id := range m.roles {
		out = append(out, m.materializeRole(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListPermissions implements Store.
func (m *MemStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReplacePermissions implements Store.
func (m *MemStore) ReplacePermissions(_ context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, ok := m.perms[permID]; !ok {
			return Role{}, shared.ReferenceNotFound("permission", permID)
		}
	}
	next := make(map[int64]struct{}, len(permissionIDs))
	for _, permID := range permissionIDs {
		next[permID] = struct{}{}
	}
	role.permIDs = next
	role.role.UpdatedAt = time.Now()
	return m.materializeRole(roleID), nil
}

// AddPermissions implements Store.
func (m *MemStore) AddPermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return shared.ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, ok := m.perms[permID]; !ok {
			return shared.ReferenceNotFound("permission", permID)
		}
	}
	for _, permID := range permissionIDs {
		role.permIDs[permID] = struct{}{}
	}
	return nil
}

// AssignRole implements Store.
func (m *MemStore) AssignRole(_ context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return shared.ErrNotFound
	}
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[int64]struct{})
	}
	m.userRoles[userID][roleID] = struct{}{}
	return nil
}

// RemoveRole implements Store.
func (m *MemStore) RemoveRole(_ context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userRoles[userID], roleID)
	return nil
}

// RoleNamesForUser implements Store.
func (m *MemStore) RoleNamesForUser(_ context.Context, userID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for roleID := range m.userRoles[userID] {
		names = append(names, m.roles[roleID].role.Name)
	}
	sort.Strings(names)
	return names, nil
}

// PermissionNamesForUser implements Store.
func (m *MemStore) PermissionNamesForUser(_ context.Context, userID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for roleID := range m.userRoles[userID] {
		for permID := range m.roles[roleID].permIDs {
			seen[m.perms[permID].Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// materializeRole requires at least a read lock held by the caller.
func (m *MemStore) materializeRole(id int64) Role {
	role := m.roles[id].role
	perms := make([]Permission, 0, len(m.roles[id].permIDs))
	for permID := range m.roles[id].permIDs {
		perms = append(perms, m.perms[permID])
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	role.Permissions = perms
	return role
}
