package authz

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/platform/httpx"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Cache    *identity.Cache
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

// LoadPrincipal resolves the session's username through the identity cache and
// attaches the principal to the request context. Anonymous and disabled users
// pass through without a principal; the Require* middlewares decide access.
func (m Middleware) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}
		ident, err := m.Cache.Resolve(r.Context(), sess.User())
		if err != nil {
			if !errors.Is(err, shared.ErrNotFound) {
				if m.Logger != nil {
					m.Logger.Error("resolve principal", slog.String("username", sess.User()), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			// Session references a deleted user; treat as anonymous.
			next.ServeHTTP(w, r)
			return
		}
		if !ident.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.ContextWithPrincipal(r.Context(), ident)))
	})
}

// RequireAuthenticated rejects requests without a resolved principal.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.PrincipalFromContext(r.Context()) == nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose principal does not hold the role.
// Unauthenticated requests get 401, authenticated-but-unauthorized get 403.
func (m Middleware) RequireRole(roleName string) func(http.Handler) http.Handler {
	return m.RequireAnyRole(roleName)
}

// RequireAnyRole rejects requests whose principal holds none of the roles.
func (m Middleware) RequireAnyRole(roleNames ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := identity.PrincipalFromContext(r.Context())
			if ident == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if !HasAnyRole(ident, roleNames...) {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose principal lacks the permission.
func (m Middleware) RequirePermission(permName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := identity.PrincipalFromContext(r.Context())
			if ident == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if !HasPermission(ident, permName) {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleAudited guards a sensitive mutation: a denial for an
// authenticated but unauthorized principal is itself recorded as a FAILURE
// entry for the given action.
func (m Middleware) RequireRoleAudited(roleName, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := identity.PrincipalFromContext(r.Context())
			if ident == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if !HasRole(ident, roleName) {
				m.Recorder.LogFailure(r.Context(), action, ident.Username, r.URL.Path,
					fmt.Sprintf("denied: role %s required", roleName))
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
