package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
	ListAll(ctx context.Context, limit int) ([]Entry, error)
	ListByUsername(ctx context.Context, username string, limit int) ([]Entry, error)
}

// Repository provides PostgreSQL backed persistence for audit entries.
//
// Insert runs as a single statement on the pool, so each entry commits in its
// own implicit transaction, never nested inside a caller's transaction. An
// entry written for a failed operation survives that operation's rollback.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	if entry.Action == "" || entry.Username == "" || entry.Status == "" {
		return errors.New("audit: entry requires action/username/status")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (at, action, username, target, details, status)
		 VALUES (COALESCE($1, NOW()), $2, $3, $4, $5, $6)`,
		nullableTime(entry.Timestamp), entry.Action, entry.Username, entry.Target, entry.Details, string(entry.Status))
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Write implements Writer.
func (r *Repository) Write(ctx context.Context, entry Entry) error {
	return r.Insert(ctx, entry)
}

// ListAll returns entries ordered by timestamp descending.
func (r *Repository) ListAll(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, at, action, username, COALESCE(target, ''), COALESCE(details, ''), status
		 FROM audit_logs ORDER BY at DESC, id DESC LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByUsername returns the actor's entries ordered by timestamp descending.
func (r *Repository) ListByUsername(ctx context.Context, username string, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, at, action, username, COALESCE(target, ''), COALESCE(details, ''), status
		 FROM audit_logs WHERE username = $1 ORDER BY at DESC, id DESC LIMIT $2`,
		username, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var status string
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Action, &entry.Username, &entry.Target, &entry.Details, &status); err != nil {
			return nil, err
		}
		entry.Status = Status(status)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
