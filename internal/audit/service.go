package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-hms/meridian-hms/internal/authz"
)

// RepositoryPort defines the persistence methods the service needs.
type RepositoryPort interface {
	InsertEntry(ctx context.Context, e Entry) error
	InsertAlert(ctx context.Context, a SecurityAlert) error
	ListEntries(ctx context.Context, f EntryFilters, limit, offset int) ([]Entry, error)
	ListAlerts(ctx context.Context, limit, offset int) ([]SecurityAlert, error)
	TouchPermissionSession(ctx context.Context, userID int64, sessionID, clientIP, userAgent, action string) error
	ClosePermissionSessions(ctx context.Context, userID int64) error
}

// Result wraps a listing with paging information.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Service coordinates audit persistence. It implements the audit sink and
// permission-session tracker consumed by the authorization pipeline; write
// failures are logged and swallowed so they never affect a decision.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds a new audit service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// RecordCheck appends one permission decision record.
func (s *Service) RecordCheck(ctx context.Context, rec authz.CheckRecord) {
	err := s.repo.InsertEntry(ctx, Entry{
		UserID:     rec.UserID,
		Permission: rec.Permission,
		Granted:    rec.Granted,
		Reason:     rec.Reason,
		Path:       rec.Path,
		Method:     rec.Method,
		ClientIP:   rec.ClientIP,
		TraceID:    rec.TraceID,
		At:         rec.At,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("audit record check", slog.Any("error", err))
	}
}

// RaiseAlert appends one security alert.
func (s *Service) RaiseAlert(ctx context.Context, alert authz.Alert) {
	err := s.repo.InsertAlert(ctx, SecurityAlert{
		Title:       alert.Title,
		Description: alert.Description,
		UserID:      alert.UserID,
		Context:     alert.Context,
		At:          alert.At,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("audit raise alert", slog.Any("error", err))
	}
}

// Touch opens or extends a permission-management session.
func (s *Service) Touch(ctx context.Context, userID int64, sessionID, clientIP, userAgent, action string) error {
	return s.repo.TouchPermissionSession(ctx, userID, sessionID, clientIP, userAgent, action)
}

// CloseSessions ends any open permission-management session for the user.
func (s *Service) CloseSessions(ctx context.Context, userID int64) error {
	return s.repo.ClosePermissionSessions(ctx, userID)
}

// ActivityLog fetches decision records with paging.
func (s *Service) ActivityLog(ctx context.Context, filters EntryFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.ListEntries(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: rows, Paging: paging}, nil
}

// Alerts fetches recent security alerts.
func (s *Service) Alerts(ctx context.Context, page, pageSize int) ([]SecurityAlert, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}
	return s.repo.ListAlerts(ctx, pageSize, (page-1)*pageSize)
}

var (
	_ authz.AuditSink                = (*Service)(nil)
	_ authz.PermissionSessionTracker = (*Service)(nil)
)
