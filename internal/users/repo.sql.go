package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

const userColumns = `id, username, email, COALESCE(phone, ''), password_hash, enabled, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns all users ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

// FindByID returns the user with the given id.
func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername returns the user with the given username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindIdentity implements identity.UserSource.
func (r *Repository) FindIdentity(ctx context.Context, username string) (identity.UserRecord, error) {
	user, err := r.FindByUsername(ctx, username)
	if err != nil {
		return identity.UserRecord{}, err
	}
	return identity.UserRecord{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Enabled:      user.Enabled,
	}, nil
}

// UsernameByID returns just the username for the given id.
func (r *Repository) UsernameByID(ctx context.Context, id int64) (string, error) {
	var username string
	err := r.pool.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, id).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("users: user %d: %w", id, shared.ErrNotFound)
		}
		return "", err
	}
	return username, nil
}

// Create inserts a new user. A username collision fails with ErrDuplicate.
func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, phone, password_hash, enabled)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		 RETURNING `+userColumns,
		user.Username, user.Email, user.Phone, user.PasswordHash, user.Enabled).
		Scan(&user.ID, &user.Username, &user.Email, &user.Phone, &user.PasswordHash, &user.Enabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, fmt.Errorf("users: username %q: %w", user.Username, shared.ErrDuplicate)
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// Update persists email, phone and the enabled flag.
func (r *Repository) Update(ctx context.Context, user User) (User, error) {
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET email = $2, phone = NULLIF($3, ''), enabled = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Phone, user.Enabled).
		Scan(&user.ID, &user.Username, &user.Email, &user.Phone, &user.PasswordHash, &user.Enabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("users: user %d: %w", user.ID, shared.ErrNotFound)
		}
		return User{}, fmt.Errorf("users: update: %w", err)
	}
	return user, nil
}

// UpdatePassword replaces the credential hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("users: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("users: user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// Delete removes the user and its role assignments.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("users: user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.Phone, &user.PasswordHash, &user.Enabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

func scanUser(rows pgx.Rows) (User, error) {
	var user User
	err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Phone, &user.PasswordHash, &user.Enabled, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}
