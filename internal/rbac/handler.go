package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/authz"
	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/platform/httpx"
)

// UserDirectory resolves usernames for role assignment targets. Satisfied by
// the users repository.
type UserDirectory interface {
	UsernameByID(ctx context.Context, id int64) (string, error)
}

// IdentityInvalidator drops a cached identity after its role set changed.
type IdentityInvalidator interface {
	Invalidate(username string)
}

// Handler wires HTTP endpoints for role and permission administration.
type Handler struct {
	logger    *slog.Logger
	store     Store
	directory UserDirectory
	cache     IdentityInvalidator
	recorder  *audit.Recorder
	authz     authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, store Store, directory UserDirectory, cache IdentityInvalidator, recorder *audit.Recorder, mw authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		store:     store,
		directory: directory,
		cache:     cache,
		recorder:  recorder,
		authz:     mw,
		validator: validator.New(),
	}
}

// MountRoutes registers role administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePermission(PermRoleRead))
		r.Get("/", h.listRoles)
		r.Get("/permissions", h.listPermissions)
		r.Get("/{id}", h.getRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePermission(PermRoleWrite))
		r.Put("/{id}/permissions", h.replacePermissions)
		r.Post("/{id}/permissions", h.addPermissions)
		r.Post("/assignments", h.assignRole)
		r.Delete("/assignments", h.removeRole)
	})
}

type permissionSetRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type assignmentRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
	RoleID int64 `json:"role_id" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

// replacePermissions swaps the role's permission set wholesale. An empty list
// clears the role.
func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req permissionSetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	role, err := h.store.ReplacePermissions(r.Context(), id, req.PermissionIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.LogSuccess(r.Context(), audit.ActionUpdateRole, actorUsername(r), role.Name,
		fmt.Sprintf("Replaced permissions (%d granted)", len(role.Permissions)))
	httpx.JSON(w, http.StatusOK, role)
}

// addPermissions grows the role's permission set without removing grants.
func (h *Handler) addPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req permissionSetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.store.AddPermissions(r.Context(), id, req.PermissionIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.LogSuccess(r.Context(), audit.ActionUpdateRole, actorUsername(r), role.Name,
		fmt.Sprintf("Added permissions (%d granted)", len(role.Permissions)))
	httpx.JSON(w, http.StatusOK, role)
}

// assignRole grants a role to a user and drops the user's cached identity
// before responding.
func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}
	username, err := h.directory.UsernameByID(r.Context(), req.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), req.RoleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.AssignRole(r.Context(), req.UserID, req.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.cache.Invalidate(username)
	h.recorder.LogSuccess(r.Context(), audit.ActionAssignRole, actorUsername(r), username,
		"Assigned role "+role.Name)
	w.WriteHeader(http.StatusNoContent)
}

// removeRole revokes a role from a user and drops the user's cached identity
// before responding.
func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}
	username, err := h.directory.UsernameByID(r.Context(), req.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), req.RoleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.RemoveRole(r.Context(), req.UserID, req.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.cache.Invalidate(username)
	h.recorder.LogSuccess(r.Context(), audit.ActionRemoveRole, actorUsername(r), username,
		"Removed role "+role.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeAssignment(w http.ResponseWriter, r *http.Request) (assignmentRequest, bool) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, false
	}
	return req, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "invalid role id")
		return 0, false
	}
	return id, true
}

func actorUsername(r *http.Request) string {
	if ident := identity.PrincipalFromContext(r.Context()); ident != nil {
		return ident.Username
	}
	return audit.AnonymousUser
}
