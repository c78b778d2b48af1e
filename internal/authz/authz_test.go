package authz

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/identity"
)

func TestRoleAndOwnershipPredicates(t *testing.T) {
	alice := &identity.Identity{
		UserID:      1,
		Username:    "alice",
		Enabled:     true,
		Roles:       []string{"USER"},
		Permissions: []string{"USER_READ"},
	}
	bob := &identity.Identity{UserID: 2, Username: "bob", Enabled: true}

	require.True(t, HasRole(alice, "USER"))
	require.False(t, HasRole(alice, "ADMIN"))

	require.True(t, IsOwner(alice, alice.UserID))
	require.False(t, IsOwner(alice, bob.UserID))
}

func TestPredicatesOnNilPrincipal(t *testing.T) {
	require.False(t, HasRole(nil, "ADMIN"))
	require.False(t, HasAnyRole(nil, "USER", "ADMIN"))
	require.False(t, HasPermission(nil, "USER_READ"))
	require.False(t, IsOwner(nil, 1))
}

func TestHasAnyRole(t *testing.T) {
	mod := &identity.Identity{
		UserID: 3,
		Roles:  []string{"MODERATOR"},
	}
	require.True(t, HasAnyRole(mod, "ADMIN", "MODERATOR"))
	require.False(t, HasAnyRole(mod, "ADMIN"))
	require.False(t, HasAnyRole(mod))
}

type denialWriter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (w *denialWriter) Write(_ context.Context, entry audit.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

func (w *denialWriter) all() []audit.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]audit.Entry(nil), w.entries...)
}

func guardedEndpoint(recorder *audit.Recorder, reached *bool) http.Handler {
	mw := Middleware{Recorder: recorder}
	return mw.RequireRoleAudited("ADMIN", audit.ActionUpdateUser)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*reached = true
			w.WriteHeader(http.StatusOK)
		}))
}

func TestRequireRoleAuditedRecordsDenial(t *testing.T) {
	writer := &denialWriter{}
	recorder := audit.NewRecorder(writer, slog.New(slog.DiscardHandler), nil, 16)
	t.Cleanup(recorder.Close)

	var reached bool
	guarded := guardedEndpoint(recorder, &reached)

	// No principal: rejected before any audit concern applies.
	req := httptest.NewRequest(http.MethodPut, "/api/users/7", nil)
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, reached)

	// Authenticated without the role: denied and recorded.
	ident := &identity.Identity{UserID: 2, Username: "alice", Enabled: true, Roles: []string{"USER"}}
	req = httptest.NewRequest(http.MethodPut, "/api/users/7", nil)
	req = req.WithContext(identity.ContextWithPrincipal(req.Context(), ident))
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, reached)

	recorder.Close()
	entries := writer.all()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionUpdateUser, entries[0].Action)
	require.Equal(t, "alice", entries[0].Username)
	require.Equal(t, "/api/users/7", entries[0].Target)
	require.Equal(t, audit.StatusFailure, entries[0].Status)
}

func TestRequireRoleAuditedAllowsRoleHolder(t *testing.T) {
	writer := &denialWriter{}
	recorder := audit.NewRecorder(writer, slog.New(slog.DiscardHandler), nil, 16)
	t.Cleanup(recorder.Close)

	var reached bool
	guarded := guardedEndpoint(recorder, &reached)

	ident := &identity.Identity{UserID: 1, Username: "admin", Enabled: true, Roles: []string{"ADMIN"}}
	req := httptest.NewRequest(http.MethodPut, "/api/users/7", nil)
	req = req.WithContext(identity.ContextWithPrincipal(req.Context(), ident))
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, reached)

	recorder.Close()
	require.Empty(t, writer.all())
}

func TestHasPermission(t *testing.T) {
	ident := &identity.Identity{
		UserID:      4,
		Permissions: []string{"USER_READ", "USER_WRITE"},
	}
	require.True(t, HasPermission(ident, "USER_WRITE"))
	require.False(t, HasPermission(ident, "ROLE_WRITE"))
}
