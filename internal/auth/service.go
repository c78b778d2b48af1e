package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
	"github.com/aegis-iam/aegis-iam/internal/shared"
	"github.com/aegis-iam/aegis-iam/internal/users"
)

// Service wraps authentication business rules.
type Service struct {
	users    users.RepositoryPort
	roles    rbac.Store
	recorder *audit.Recorder
}

// NewService constructs a new Service.
func NewService(userRepo users.RepositoryPort, roles rbac.Store, recorder *audit.Recorder) *Service {
	return &Service{users: userRepo, roles: roles, recorder: recorder}
}

// RegisterInput carries the fields of a self-service registration.
type RegisterInput struct {
	Username string
	Email    string
	Phone    string
	Password string
}

// Authenticate validates username and password credentials. Every failure mode
// reports shared.ErrInvalidCredentials so callers cannot distinguish an
// unknown username from a wrong password or a disabled account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (users.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		s.recorder.LogFailure(ctx, audit.ActionLogin, username, "", "Unknown username")
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.Enabled {
		s.recorder.LogFailure(ctx, audit.ActionLogin, username, "", "Account disabled")
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recorder.LogFailure(ctx, audit.ActionLogin, username, "", "Invalid password")
		return users.User{}, shared.ErrInvalidCredentials
	}
	s.recorder.LogSuccess(ctx, audit.ActionLogin, username, "", "Logged in")
	return user, nil
}

// Register creates a new enabled account holding the default USER role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (users.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return users.User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.users.Create(ctx, users.User{
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: string(hash),
		Enabled:      true,
	})
	if err != nil {
		return users.User{}, err
	}
	role, err := s.roles.FindOrCreateRole(ctx, rbac.RoleUser)
	if err != nil {
		return users.User{}, fmt.Errorf("auth: resolve default role: %w", err)
	}
	if err := s.roles.AssignRole(ctx, user.ID, role.ID); err != nil {
		return users.User{}, fmt.Errorf("auth: assign default role: %w", err)
	}
	s.recorder.LogSuccess(ctx, audit.ActionRegister, user.Username, "", "Registered account")
	return user, nil
}
