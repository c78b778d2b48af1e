package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	audithttp "github.com/aegis-iam/aegis-iam/internal/audit/http"
	"github.com/aegis-iam/aegis-iam/internal/auth"
	"github.com/aegis-iam/aegis-iam/internal/authz"
	"github.com/aegis-iam/aegis-iam/internal/observability"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
	"github.com/aegis-iam/aegis-iam/internal/shared"
	"github.com/aegis-iam/aegis-iam/internal/users"
	"github.com/aegis-iam/aegis-iam/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Authz          authz.Middleware
	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	RolesHandler   *rbac.Handler
	AuditHandler   *audithttp.Handler
	JobsHandler    *jobs.Handler
	Pool           *pgxpool.Pool
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Authz.LoadPrincipal)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("health check db ping", slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/auth", params.AuthHandler.MountRoutes)
	r.Route("/api/users", params.UsersHandler.MountRoutes)
	r.Route("/api/profile", params.UsersHandler.MountProfileRoutes)
	r.Route("/api/roles", params.RolesHandler.MountRoutes)
	if params.AuditHandler != nil {
		r.Route("/api/audit", func(r chi.Router) {
			params.AuditHandler.MountRoutes(r, params.Authz)
		})
	}
	if params.JobsHandler != nil {
		r.Route("/api/jobs", func(r chi.Router) {
			r.Use(params.Authz.RequireRole(rbac.RoleAdmin))
			params.JobsHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
