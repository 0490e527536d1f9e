package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/{id}", h.getUser)
	r.Patch("/{id}", h.editUser)
	r.Delete("/{id}", h.deleteUser)
	r.Put("/{id}/role", h.assignRole)
	r.Put("/{id}/status", h.updateStatus)
}

// MountMeRoutes registers the signed-in user's query surface.
func (h *Handler) MountMeRoutes(r chi.Router) {
	r.Get("/status", h.myStatus)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/", h.me)
		r.Get("/permissions", h.myPermissions)
		r.Get("/check", h.checkPermission)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilters{Query: q.Get("q")}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if raw := q.Get("role_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role_id")
			return
		}
		f.RoleID = &id
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid active flag")
			return
		}
		f.Active = &active
	}
	result, err := h.service.ListUsers(r.Context(), actorFrom(r), f)
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) editUser(w http.ResponseWriter, r *http.Request) {
	var in EditInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.EditUser(r.Context(), actorFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, "edit user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var in AssignRoleInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.AssignRole(r.Context(), actorFrom(r), chi.URLParam(r, "id"), in.RoleID)
	if err != nil {
		h.fail(w, r, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var in StatusInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.UpdateAccountStatus(r.Context(), actorFrom(r), chi.URLParam(r, "id"), *in.IsActive)
	if err != nil {
		h.fail(w, r, "update account status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Me(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, "load profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.GetPermissions(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, "load permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) myStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetAccountStatus(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, "load account status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	check, err := h.service.CheckPermission(r.Context(), actorFrom(r), q.Get("source"), q.Get("action"))
	if err != nil {
		h.fail(w, r, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorFrom(r *http.Request) rbac.Identity {
	return rbac.IdentityFromSession(shared.SessionFromContext(r.Context()))
}
