package users

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

// Handler manages user management endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermUsersEdit))
		r.Post("/", h.createUser)
		r.Post("/{id}/role", h.assignRole)
		r.Put("/{id}/status", h.setStatus)
	})
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=128"`
	Name     string `json:"name" validate:"required,min=2,max=128"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	RoleID   *int64 `json:"role_id"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type statusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type userResponse struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	RoleID       *int64 `json:"role_id,omitempty"`
	Role         string `json:"role,omitempty"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	IsActive     bool   `json:"is_active"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if perPage <= 0 || perPage > 50 {
		perPage = 20
	}
	list, total, err := h.service.ListUsers(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]userResponse, len(list))
	for i := range list {
		out[i] = toUserResponse(&list[i])
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users":      out,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("get user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateUser(r.Context(), User{
		Email:  req.Email,
		Name:   req.Name,
		RoleID: req.RoleID,
	}, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrDuplicateEmail):
			httpx.Problem(w, http.StatusConflict, "Duplicate", shared.UserSafeMessage(err))
		case errors.Is(err, ErrRoleNotFound):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Role", err.Error())
		default:
			h.logger.Error("create user", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(created))
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AssignRole(r.Context(), id, req.RoleID); err != nil {
		switch {
		case errors.Is(err, ErrRoleNotFound):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Role", err.Error())
		case errors.Is(err, shared.ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		default:
			h.logger.Error("assign role", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetActive(r.Context(), id, *req.Active); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("set user status", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be numeric")
		return 0, false
	}
	return id, true
}

func toUserResponse(u *User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		RoleID:       u.RoleID,
		Role:         u.Role,
		IsSuperAdmin: u.IsSuperAdmin,
		IsActive:     u.IsActive,
	}
}
