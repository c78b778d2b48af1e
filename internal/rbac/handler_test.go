package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/authz"
	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

type stubDirectory struct {
	usernames map[int64]string
}

func (d *stubDirectory) UsernameByID(_ context.Context, id int64) (string, error) {
	username, ok := d.usernames[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return username, nil
}

type stubInvalidator struct {
	mu        sync.Mutex
	usernames []string
}

func (s *stubInvalidator) Invalidate(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usernames = append(s.usernames, username)
}

type handlerCaptureWriter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (w *handlerCaptureWriter) Write(_ context.Context, entry audit.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

func (w *handlerCaptureWriter) all() []audit.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]audit.Entry(nil), w.entries...)
}

func newHandlerFixture(t *testing.T) (http.Handler, *MemStore, *stubInvalidator, func() []audit.Entry) {
	t.Helper()
	store := NewMemStore()
	require.NoError(t, Seed(context.Background(), store))

	directory := &stubDirectory{usernames: map[int64]string{7: "bob"}}
	inv := &stubInvalidator{}
	writer := &handlerCaptureWriter{}
	recorder := audit.NewRecorder(writer, slog.New(slog.DiscardHandler), nil, 16)
	t.Cleanup(recorder.Close)

	h := NewHandler(slog.New(slog.DiscardHandler), store, directory, inv, recorder, authz.Middleware{})
	router := chi.NewRouter()
	router.Route("/api/roles", h.MountRoutes)

	drain := func() []audit.Entry {
		recorder.Close()
		return writer.all()
	}
	return router, store, inv, drain
}

func adminRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	ident := &identity.Identity{
		UserID:      1,
		Username:    "admin",
		Enabled:     true,
		Roles:       []string{RoleAdmin},
		Permissions: []string{PermUserRead, PermUserWrite, PermRoleRead, PermRoleWrite},
	}
	return req.WithContext(identity.ContextWithPrincipal(req.Context(), ident))
}

func TestListRolesRequiresPermission(t *testing.T) {
	router, _, _, _ := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/roles/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ident := &identity.Identity{UserID: 2, Username: "alice", Enabled: true, Roles: []string{RoleUser}, Permissions: []string{PermUserRead}}
	req = httptest.NewRequest(http.MethodGet, "/api/roles/", nil)
	req = req.WithContext(identity.ContextWithPrincipal(req.Context(), ident))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodGet, "/api/roles/", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReplacePermissionsUnknownIDLeavesRoleUntouched(t *testing.T) {
	router, store, _, drain := newHandlerFixture(t)

	role, err := store.FindOrCreateRole(context.Background(), RoleUser)
	require.NoError(t, err)
	before := role.PermissionNames()

	path := fmt.Sprintf("/api/roles/%d/permissions", role.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodPut, path, `{"permission_ids":[999999]}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "999999")

	role, err = store.GetRole(context.Background(), role.ID)
	require.NoError(t, err)
	assert.Equal(t, before, role.PermissionNames())
	assert.Empty(t, drain())
}

func TestReplacePermissionsEmptiesRole(t *testing.T) {
	router, store, _, drain := newHandlerFixture(t)

	role, err := store.FindOrCreateRole(context.Background(), RoleModerator)
	require.NoError(t, err)
	require.NotEmpty(t, role.Permissions)

	path := fmt.Sprintf("/api/roles/%d/permissions", role.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodPut, path, `{"permission_ids":[]}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	role, err = store.GetRole(context.Background(), role.ID)
	require.NoError(t, err)
	assert.Empty(t, role.Permissions)

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionUpdateRole, entries[0].Action)
	assert.Equal(t, "admin", entries[0].Username)
	assert.Equal(t, RoleModerator, entries[0].Target)
}

func TestAssignRoleInvalidatesIdentity(t *testing.T) {
	router, store, inv, drain := newHandlerFixture(t)

	role, err := store.FindOrCreateRole(context.Background(), RoleModerator)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"user_id":7,"role_id":%d}`, role.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/roles/assignments", body))
	require.Equal(t, http.StatusNoContent, rec.Code)

	names, err := store.RoleNamesForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleModerator}, names)
	assert.Equal(t, []string{"bob"}, inv.usernames)

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAssignRole, entries[0].Action)
	assert.Equal(t, "bob", entries[0].Target)
}

func TestRemoveRoleAuditsRevocation(t *testing.T) {
	router, store, inv, drain := newHandlerFixture(t)

	role, err := store.FindOrCreateRole(context.Background(), RoleModerator)
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(context.Background(), 7, role.ID))

	body := fmt.Sprintf(`{"user_id":7,"role_id":%d}`, role.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodDelete, "/api/roles/assignments", body))
	require.Equal(t, http.StatusNoContent, rec.Code)

	names, err := store.RoleNamesForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, []string{"bob"}, inv.usernames)

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRemoveRole, entries[0].Action)
	assert.Equal(t, "bob", entries[0].Target)
	assert.Equal(t, "Removed role "+RoleModerator, entries[0].Details)
}
