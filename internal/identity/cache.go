// Package identity materializes and caches the resolved view of a principal:
// the user record plus its role names and the derived union of permission
// names. Resolution sits on the hot path of every authorized request; the
// cache's one correctness obligation is invalidate-on-write, because a stale
// hit reflecting a revoked role is a security defect, not a performance
// nuisance.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/aegis-iam/aegis-iam/internal/observability"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

// Identity is the cached read view of a principal.
// PasswordHash is opaque and never serialized outward.
type Identity struct {
	UserID       int64    `json:"user_id"`
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`
	Enabled      bool     `json:"enabled"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}

// UserRecord is the slice of the user store the cache needs.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Enabled      bool
}

// UserSource looks up user records by username.
type UserSource interface {
	FindIdentity(ctx context.Context, username string) (UserRecord, error)
}

// RoleSource resolves role and derived permission names for a user.
type RoleSource interface {
	RoleNamesForUser(ctx context.Context, userID int64) ([]string, error)
	PermissionNamesForUser(ctx context.Context, userID int64) ([]string, error)
}

// Cache is a read-through cache of resolved identities keyed by username.
//
// Concurrent misses for the same key collapse into a single load, so readers
// never observe two differently-valued entries for one username. The TTL is a
// backstop only; correctness comes from Invalidate being called on every
// credential or role-assignment write before that write returns.
type Cache struct {
	users   UserSource
	roles   RoleSource
	entries *lru.LRU[string, *Identity]
	group   singleflight.Group
	metrics *observability.Metrics

	mu  sync.Mutex
	gen map[string]uint64
}

// Config tunes cache capacity and entry lifetime.
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// NewCache constructs a Cache. Metrics may be nil.
func NewCache(users UserSource, roles RoleSource, cfg Config, metrics *observability.Metrics) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Cache{
		users:   users,
		roles:   roles,
		entries: lru.NewLRU[string, *Identity](cfg.MaxEntries, nil, cfg.TTL),
		metrics: metrics,
		gen:     make(map[string]uint64),
	}
}

// Resolve returns the cached identity for username, loading it from the user
// and role stores on a miss. Fails with shared.ErrNotFound when no such user
// exists.
func (c *Cache) Resolve(ctx context.Context, username string) (*Identity, error) {
	if ident, ok := c.entries.Get(username); ok {
		c.metrics.IdentityCacheHit()
		return ident, nil
	}
	c.metrics.IdentityCacheMiss()

	v, err, _ := c.group.Do(username, func() (any, error) {
		// A concurrent caller may have populated the entry while this one
		// waited on the flight group.
		if ident, ok := c.entries.Get(username); ok {
			return ident, nil
		}
		gen := c.generation(username)
		ident, err := c.load(ctx, username)
		if err != nil {
			return nil, err
		}
		// An Invalidate that raced this load bumps the generation; storing
		// the result then would resurrect pre-write state, so skip the Add
		// and let the next Resolve reload.
		c.mu.Lock()
		if c.gen[username] == gen {
			c.entries.Add(username, ident)
		}
		c.mu.Unlock()
		return ident, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Identity), nil
}

// Invalidate removes any cached entry for username. Callers mutating a user's
// credentials or role assignment must invoke this before reporting their own
// operation complete.
func (c *Cache) Invalidate(username string) {
	// Bump the generation first: any load still in flight captured the old
	// value and will refuse to store its result.
	c.mu.Lock()
	c.gen[username]++
	c.mu.Unlock()
	// Forget so the in-flight result is not re-shared after the entry drops.
	c.group.Forget(username)
	c.entries.Remove(username)
}

func (c *Cache) generation(username string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[username]
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) load(ctx context.Context, username string) (*Identity, error) {
	record, err := c.users.FindIdentity(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("identity: user %q: %w", username, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("identity: load user %q: %w", username, err)
	}
	roles, err := c.roles.RoleNamesForUser(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: load roles for %q: %w", username, err)
	}
	perms, err := c.roles.PermissionNamesForUser(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: load permissions for %q: %w", username, err)
	}
	return &Identity{
		UserID:       record.ID,
		Username:     record.Username,
		PasswordHash: record.PasswordHash,
		Enabled:      record.Enabled,
		Roles:        roles,
		Permissions:  perms,
	}, nil
}
