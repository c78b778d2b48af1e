package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis-iam/internal/platform/db"
)

// Seeder ensures the default roles and permissions exist at startup.
//
// Seeding is idempotent and monotonic: permissions are find-or-create and role
// permission sets are merged, never replaced, so a restart can only grow a
// role's capabilities. The seeder deliberately never creates user accounts;
// account creation belongs to the registration flow.
type Seeder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(pool *pgxpool.Pool, logger *slog.Logger) *Seeder {
	return &Seeder{pool: pool, logger: logger}
}

// Run seeds defaults inside a single transaction.
func (s *Seeder) Run(ctx context.Context) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return Seed(ctx, NewTxRepository(tx))
	})
	if err != nil {
		return fmt.Errorf("rbac: seed defaults: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("default roles and permissions seeded")
	}
	return nil
}

// Seed creates the default permissions and roles against the given store.
func Seed(ctx context.Context, store Store) error {
	userRead, err := store.FindOrCreatePermission(ctx, PermUserRead)
	if err != nil {
		return err
	}
	userWrite, err := store.FindOrCreatePermission(ctx, PermUserWrite)
	if err != nil {
		return err
	}
	roleRead, err := store.FindOrCreatePermission(ctx, PermRoleRead)
	if err != nil {
		return err
	}
	roleWrite, err := store.FindOrCreatePermission(ctx, PermRoleWrite)
	if err != nil {
		return err
	}

	defaults := []struct {
		name  string
		perms []int64
	}{
		{RoleUser, []int64{userRead.ID}},
		{RoleModerator, []int64{userRead.ID, userWrite.ID}},
		{RoleAdmin, []int64{userRead.ID, userWrite.ID, roleRead.ID, roleWrite.ID}},
	}
	for _, def := range defaults {
		role, err := store.FindOrCreateRole(ctx, def.name)
		if err != nil {
			return err
		}
		if err := store.AddPermissions(ctx, role.ID, def.perms); err != nil {
			return err
		}
	}
	return nil
}
