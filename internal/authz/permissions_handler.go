package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// PermissionsHandler manages the permission catalog and per-user overrides.
type PermissionsHandler struct {
	logger    *slog.Logger
	store     *Store
	guard     *Guard
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, store *Store, guard *Guard) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, store: store, guard: guard, validator: validator.New()}
}

// MountRoutes registers the permission catalog listing.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermPermissionsView))
		r.Get("/permissions", h.listPermissions)
	})
}

// MountUserRoutes registers per-user override routes. Call inside the /users
// subrouter so the paths nest under /users/{id}.
func (h *PermissionsHandler) MountUserRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermPermissionsView))
		r.Get("/{id}/overrides", h.listOverrides)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermPermissionsEdit))
		r.Put("/{id}/overrides", h.setOverride)
		r.Delete("/{id}/overrides/{permission}", h.deleteOverride)
	})
}

type permissionResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Module    string `json:"module"`
	RiskLevel string `json:"risk_level"`
}

type overrideRequest struct {
	Permission string `json:"permission" validate:"required,max=128"`
	Allowed    *bool  `json:"allowed" validate:"required"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionResponse, len(perms))
	for i, p := range perms {
		out[i] = permissionResponse{ID: p.ID, Name: p.Name, Category: p.Category, Module: p.Module, RiskLevel: p.RiskLevel}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *PermissionsHandler) listOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	overrides, err := h.store.Overrides(r.Context(), userID)
	if err != nil {
		h.logger.Error("list overrides", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type item struct {
		Permission string `json:"permission"`
		Allowed    bool   `json:"allowed"`
	}
	out := make([]item, len(overrides))
	for i, o := range overrides {
		out[i] = item{Permission: o.Permission, Allowed: o.Allowed}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": out})
}

func (h *PermissionsHandler) setOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.store.SetOverride(r.Context(), userID, req.Permission, *req.Allowed); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown permission name")
			return
		}
		h.logger.Error("set override", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": req.Permission, "allowed": *req.Allowed})
}

func (h *PermissionsHandler) deleteOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	permission := chi.URLParam(r, "permission")
	if err := h.store.DeleteOverride(r.Context(), userID, permission); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("delete override", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be numeric")
		return 0, false
	}
	return id, true
}
