package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-hms/meridian-hms/internal/authz"
	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// Handler exposes the activity log and security alert listings.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   *authz.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *authz.Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermActivityLogsView))
		r.Get("/activity-logs", h.listActivity)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermSecurityAlertsView))
		r.Get("/security-alerts", h.listAlerts)
	})
}

type entryResponse struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Permission string    `json:"permission"`
	Granted    bool      `json:"granted"`
	Reason     string    `json:"reason"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	ClientIP   string    `json:"client_ip"`
	TraceID    string    `json:"trace_id,omitempty"`
	At         time.Time `json:"at"`
}

type alertResponse struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	UserID      int64          `json:"user_id,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	At          time.Time      `json:"at"`
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	filters := parseEntryFilters(r)
	result, err := h.service.ActivityLog(r.Context(), filters)
	if err != nil {
		h.logger.Error("list activity logs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, len(result.Entries))
	for i, e := range result.Entries {
		out[i] = entryResponse{
			ID:         e.ID,
			UserID:     e.UserID,
			Permission: e.Permission,
			Granted:    e.Granted,
			Reason:     e.Reason,
			Path:       e.Path,
			Method:     e.Method,
			ClientIP:   e.ClientIP,
			TraceID:    e.TraceID,
			At:         e.At,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"paging": map[string]any{
			"page":      result.Paging.Page,
			"page_size": result.Paging.PageSize,
			"has_next":  result.Paging.HasNext,
		},
	})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	alerts, err := h.service.Alerts(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("list security alerts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]alertResponse, len(alerts))
	for i, a := range alerts {
		out[i] = alertResponse{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			UserID:      a.UserID,
			Context:     a.Context,
			At:          a.At,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func parseEntryFilters(r *http.Request) EntryFilters {
	q := r.URL.Query()
	var f EntryFilters
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if v := q.Get("user_id"); v != "" {
		f.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("granted"); v != "" {
		granted := v == "true" || v == "1"
		f.Granted = &granted
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	return f
}
