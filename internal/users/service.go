package users

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

// TargetSelf marks audit entries for operations an actor performs on their own
// account.
const TargetSelf = "SELF"

// IdentityInvalidator drops the cached identity for a username. Satisfied by
// identity.Cache.
type IdentityInvalidator interface {
	Invalidate(username string)
}

// UpdateUserInput carries the administrator-editable fields of an account.
type UpdateUserInput struct {
	Email   string
	Phone   string
	Enabled bool
}

// ProfileInput carries the self-service editable fields of an account.
type ProfileInput struct {
	Email string
	Phone string
}

// Service implements account management and self-service profile operations.
type Service struct {
	repo     RepositoryPort
	cache    IdentityInvalidator
	recorder *audit.Recorder
}

// NewService constructs the service.
func NewService(repo RepositoryPort, cache IdentityInvalidator, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, cache: cache, recorder: recorder}
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Get returns one account by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdateUser applies an administrative edit to the account with the given id.
// The cached identity is dropped before the edit is reported complete, so a
// disabled account cannot keep authorizing requests off a stale entry.
func (s *Service) UpdateUser(ctx context.Context, actor string, id int64, in UpdateUserInput) (User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Email = in.Email
	user.Phone = in.Phone
	user.Enabled = in.Enabled

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return User{}, err
	}
	s.cache.Invalidate(updated.Username)
	s.recorder.LogSuccess(ctx, audit.ActionUpdateUser, actor, updated.Username, "Updated email/phone/status")
	return updated, nil
}

// DeleteUser removes the account with the given id and drops its cached
// identity before returning.
func (s *Service) DeleteUser(ctx context.Context, actor string, id int64) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(user.Username)
	s.recorder.LogSuccess(ctx, audit.ActionDeleteUser, actor, user.Username, "Deleted user")
	return nil
}

// Profile returns the account of the authenticated user.
func (s *Service) Profile(ctx context.Context, username string) (User, error) {
	return s.repo.FindByUsername(ctx, username)
}

// UpdateProfile applies a self-service edit to the actor's own account.
func (s *Service) UpdateProfile(ctx context.Context, username string, in ProfileInput) (User, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return User{}, err
	}
	user.Email = in.Email
	user.Phone = in.Phone

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return User{}, err
	}
	s.recorder.LogSuccess(ctx, audit.ActionProfileUpdate, username, TargetSelf, "Updated profile details")
	return updated, nil
}

// ChangePassword verifies the current credential and replaces it. A wrong
// current password is audited as a FAILURE and fails with
// shared.ErrInvalidCredentials; on success the cached identity is dropped
// before the change is reported complete.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		s.recorder.LogFailure(ctx, audit.ActionPasswordChange, username, TargetSelf, "Incorrect current password")
		return shared.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	s.cache.Invalidate(username)
	s.recorder.LogSuccess(ctx, audit.ActionPasswordChange, username, TargetSelf, "Changed password successfully")
	return nil
}
