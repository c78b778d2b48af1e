package audithttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/aegis-iam/aegis-iam/internal/authz"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
)

// MountRoutes registers the audit endpoints. All of them require ADMIN.
func (h *Handler) MountRoutes(r chi.Router, mw authz.Middleware) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(mw.RequireRole(rbac.RoleAdmin))
		gr.Get("/", h.handleList)
	})
}
