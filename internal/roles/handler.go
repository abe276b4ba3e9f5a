package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian-hms/internal/authz"
	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     *authz.Guard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *authz.Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermRolesView))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.getRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermRolesEdit))
		r.Post("/", h.createRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
	})
}

type roleRequest struct {
	Name                   string            `json:"name" validate:"required,min=2,max=64"`
	Slug                   string            `json:"slug" validate:"omitempty,max=64"`
	ParentRoleID           *int64            `json:"parent_role_id"`
	Priority               int               `json:"priority" validate:"gte=0,lte=1000"`
	ModuleAccess           []string          `json:"module_access"`
	DataVisibilityScope    map[string]string `json:"data_visibility_scope"`
	ConcurrentSessionLimit *int              `json:"concurrent_session_limit" validate:"omitempty,gte=1"`
	AssignableRoleIDs      []int64           `json:"assignable_role_ids"`
}

type roleResponse struct {
	ID                     int64             `json:"id"`
	Name                   string            `json:"name"`
	Slug                   string            `json:"slug"`
	ParentRoleID           *int64            `json:"parent_role_id,omitempty"`
	Priority               int               `json:"priority"`
	ModuleAccess           []string          `json:"module_access"`
	DataVisibilityScope    map[string]string `json:"data_visibility_scope,omitempty"`
	ConcurrentSessionLimit *int              `json:"concurrent_session_limit,omitempty"`
	AssignableRoleIDs      []int64           `json:"assignable_role_ids,omitempty"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, len(list))
	for i := range list {
		out[i] = toResponse(&list[i])
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role id must be numeric")
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("get role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateRole(r.Context(), fromRequest(req))
	if err != nil {
		h.respondWriteError(w, err, "create role")
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role id must be numeric")
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role := fromRequest(req)
	role.ID = id
	updated, err := h.service.UpdateRole(r.Context(), role)
	if err != nil {
		h.respondWriteError(w, err, "update role")
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role id must be numeric")
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("delete role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondWriteError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrDuplicateSlug):
		httpx.Problem(w, http.StatusConflict, "Duplicate", shared.UserSafeMessage(err))
	case errors.Is(err, ErrParentNotFound), errors.Is(err, ErrCircularChain), errors.Is(err, ErrPriorityInversion):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Hierarchy", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func fromRequest(req roleRequest) Role {
	return Role{
		Name:                   req.Name,
		Slug:                   req.Slug,
		ParentRoleID:           req.ParentRoleID,
		Priority:               req.Priority,
		ModuleAccess:           req.ModuleAccess,
		DataVisibilityScope:    req.DataVisibilityScope,
		ConcurrentSessionLimit: req.ConcurrentSessionLimit,
		AssignableRoleIDs:      req.AssignableRoleIDs,
	}
}

func toResponse(role *Role) roleResponse {
	return roleResponse{
		ID:                     role.ID,
		Name:                   role.Name,
		Slug:                   role.Slug,
		ParentRoleID:           role.ParentRoleID,
		Priority:               role.Priority,
		ModuleAccess:           role.ModuleAccess,
		DataVisibilityScope:    role.DataVisibilityScope,
		ConcurrentSessionLimit: role.ConcurrentSessionLimit,
		AssignableRoleIDs:      role.AssignableRoleIDs,
	}
}
