package users

import (
	"context"

	"github.com/aegis-iam/aegis-iam/internal/identity"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	identity.UserSource

	ListUsers(ctx context.Context) ([]User, error)
	FindByID(ctx context.Context, id int64) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, user User) (User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Delete(ctx context.Context, id int64) error
}
