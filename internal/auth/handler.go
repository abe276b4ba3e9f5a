package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// SessionRegistry tracks live sessions per user for concurrent-session
// enforcement.
type SessionRegistry interface {
	Register(ctx context.Context, userID int64, sessionID string) error
	Release(ctx context.Context, userID int64, sessionID string) error
}

// SessionCloser ends open permission-management sessions on logout.
type SessionCloser interface {
	CloseSessions(ctx context.Context, userID int64) error
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	registry       SessionRegistry
	closer         SessionCloser
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, registry SessionRegistry, closer SessionCloser) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		registry:       registry,
		closer:         closer,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserSafeMessage(shared.ErrInvalidCredentials))
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	if err := h.sessionManager.Commit(r.Context(), w, r, sess); err != nil {
		h.logger.Error("commit session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	if h.registry != nil {
		if err := h.registry.Register(r.Context(), user.ID, sess.ID); err != nil {
			h.logger.Warn("register session counter", slog.Any("error", err))
		}
	}
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
		"csrf_token": csrfToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	if userID, err := strconv.ParseInt(sess.User(), 10, 64); err == nil && userID > 0 {
		if h.registry != nil {
			if err := h.registry.Release(r.Context(), userID, sess.ID); err != nil {
				h.logger.Warn("release session counter", slog.Any("error", err))
			}
		}
		if h.closer != nil {
			if err := h.closer.CloseSessions(r.Context(), userID); err != nil {
				h.logger.Warn("close permission sessions", slog.Any("error", err))
			}
		}
	}
	h.sessionManager.Destroy(sess)
	if err := h.sessionManager.Commit(r.Context(), w, r, sess); err != nil {
		h.logger.Warn("commit destroyed session", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}
