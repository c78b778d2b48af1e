package users

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

type memRepo struct {
	mu    sync.Mutex
	users map[int64]User
}

func newMemRepo(users ...User) *memRepo {
	r := &memRepo{users: map[int64]User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memRepo) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memRepo) FindByID(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memRepo) FindByUsername(ctx context.Context, username string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (r *memRepo) FindIdentity(ctx context.Context, username string) (identity.UserRecord, error) {
	u, err := r.FindByUsername(ctx, username)
	if err != nil {
		return identity.UserRecord{}, err
	}
	return identity.UserRecord{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, Enabled: u.Enabled}, nil
}

func (r *memRepo) Create(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return User{}, shared.ErrDuplicate
		}
	}
	user.ID = int64(len(r.users) + 1)
	r.users[user.ID] = user
	return user, nil
}

func (r *memRepo) Update(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return User{}, shared.ErrNotFound
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = passwordHash
	r.users[id] = u
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type memInvalidator struct {
	mu        sync.Mutex
	usernames []string
}

func (m *memInvalidator) Invalidate(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usernames = append(m.usernames, username)
}

func (m *memInvalidator) invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.usernames...)
}

type memAuditWriter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (w *memAuditWriter) Write(ctx context.Context, entry audit.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

func (w *memAuditWriter) all() []audit.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]audit.Entry(nil), w.entries...)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestService(t *testing.T, users ...User) (*Service, *memRepo, *memInvalidator, func() []audit.Entry) {
	t.Helper()
	repo := newMemRepo(users...)
	inv := &memInvalidator{}
	writer := &memAuditWriter{}
	recorder := audit.NewRecorder(writer, slog.New(slog.DiscardHandler), nil, 16)
	svc := NewService(repo, inv, recorder)
	drain := func() []audit.Entry {
		recorder.Close()
		return writer.all()
	}
	t.Cleanup(recorder.Close)
	return svc, repo, inv, drain
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	alice := User{ID: 1, Username: "alice", Email: "alice@example.com", Enabled: true, PasswordHash: mustHash(t, "old-secret")}
	svc, repo, inv, drain := newTestService(t, alice)

	err := svc.ChangePassword(context.Background(), "alice", "wrong-secret", "new-secret")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	stored, err := repo.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.PasswordHash, stored.PasswordHash)
	assert.Empty(t, inv.invalidated())

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPasswordChange, entries[0].Action)
	assert.Equal(t, audit.StatusFailure, entries[0].Status)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, TargetSelf, entries[0].Target)
	assert.Equal(t, "Incorrect current password", entries[0].Details)
}

func TestChangePasswordReplacesCredential(t *testing.T) {
	alice := User{ID: 1, Username: "alice", Email: "alice@example.com", Enabled: true, PasswordHash: mustHash(t, "old-secret")}
	svc, repo, inv, drain := newTestService(t, alice)

	require.NoError(t, svc.ChangePassword(context.Background(), "alice", "old-secret", "new-secret"))

	stored, err := repo.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("new-secret")))
	assert.Equal(t, []string{"alice"}, inv.invalidated())

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPasswordChange, entries[0].Action)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, "alice", entries[0].Username)
}

func TestUpdateUserInvalidatesIdentity(t *testing.T) {
	bob := User{ID: 2, Username: "bob", Email: "bob@example.com", Enabled: true, PasswordHash: mustHash(t, "pw")}
	svc, repo, inv, drain := newTestService(t, bob)

	updated, err := svc.UpdateUser(context.Background(), "admin", 2, UpdateUserInput{
		Email:   "bob@corp.example.com",
		Phone:   "555-0102",
		Enabled: false,
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@corp.example.com", updated.Email)
	assert.False(t, updated.Enabled)

	stored, err := repo.FindByID(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, []string{"bob"}, inv.invalidated())

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionUpdateUser, entries[0].Action)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, "admin", entries[0].Username)
	assert.Equal(t, "bob", entries[0].Target)
}

func TestUpdateUserUnknownID(t *testing.T) {
	svc, _, inv, drain := newTestService(t)

	_, err := svc.UpdateUser(context.Background(), "admin", 42, UpdateUserInput{Email: "x@example.com"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, inv.invalidated())
	assert.Empty(t, drain())
}

func TestDeleteUser(t *testing.T) {
	bob := User{ID: 2, Username: "bob", Email: "bob@example.com", Enabled: true, PasswordHash: mustHash(t, "pw")}
	svc, repo, inv, drain := newTestService(t, bob)

	require.NoError(t, svc.DeleteUser(context.Background(), "admin", 2))

	_, err := repo.FindByID(context.Background(), 2)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, []string{"bob"}, inv.invalidated())

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionDeleteUser, entries[0].Action)
	assert.Equal(t, "admin", entries[0].Username)
	assert.Equal(t, "bob", entries[0].Target)
}

func TestUpdateProfile(t *testing.T) {
	alice := User{ID: 1, Username: "alice", Email: "alice@example.com", Enabled: true, PasswordHash: mustHash(t, "pw")}
	svc, repo, inv, drain := newTestService(t, alice)

	updated, err := svc.UpdateProfile(context.Background(), "alice", ProfileInput{
		Email: "alice@home.example.com",
		Phone: "555-0101",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@home.example.com", updated.Email)

	stored, err := repo.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "555-0101", stored.Phone)
	assert.Empty(t, inv.invalidated())

	entries := drain()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionProfileUpdate, entries[0].Action)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, TargetSelf, entries[0].Target)
	assert.Equal(t, "Updated profile details", entries[0].Details)
}
