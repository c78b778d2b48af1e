package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/authz"
	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/platform/httpx"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
	"github.com/aegis-iam/aegis-iam/internal/shared"
)

// Handler wires HTTP endpoints for account management and self-service
// profile operations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	authz     authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		authz:     mw,
		validator: validator.New(),
	}
}

// MountRoutes registers account management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireRole(rbac.RoleAdmin))
		r.Get("/", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAuthenticated)
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireRoleAudited(rbac.RoleAdmin, audit.ActionUpdateUser))
		r.Put("/{id}", h.updateUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireRoleAudited(rbac.RoleAdmin, audit.ActionDeleteUser))
		r.Delete("/{id}", h.deleteUser)
	})
}

// MountProfileRoutes registers self-service routes for the authenticated user.
func (h *Handler) MountProfileRoutes(r chi.Router) {
	r.Use(h.authz.RequireAuthenticated)
	r.Get("/", h.getProfile)
	r.Put("/", h.updateProfile)
	r.Post("/password", h.changePassword)
}

type updateUserRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Enabled bool   `json:"enabled"`
}

type updateProfileRequest struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, users)
}

// getUser serves an account to administrators and to the account owner.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ident := identity.PrincipalFromContext(r.Context())
	if !authz.HasRole(ident, rbac.RoleAdmin) && !authz.IsOwner(ident, id) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	actor := actorUsername(r)
	user, err := h.service.UpdateUser(r.Context(), actor, id, UpdateUserInput{
		Email:   req.Email,
		Phone:   req.Phone,
		Enabled: req.Enabled,
	})
	if err != nil {
		h.logger.Error("update user", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteUser(r.Context(), actorUsername(r), id); err != nil {
		h.logger.Error("delete user", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Profile(r.Context(), actorUsername(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), actorUsername(r), ProfileInput{
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), actorUsername(r), req.CurrentPassword, req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Changed password successfully"})
}

// decodeValid decodes the JSON body into target and validates it, responding
// with a 400 problem on failure.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "invalid user id")
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
