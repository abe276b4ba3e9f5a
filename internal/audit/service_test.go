package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian-hms/internal/authz"
)

type memoryAuditRepo struct {
	entries   []Entry
	alerts    []SecurityAlert
	touches   []string
	closed    []int64
	insertErr error
}

func (m *memoryAuditRepo) InsertEntry(ctx context.Context, e Entry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAuditRepo) InsertAlert(ctx context.Context, a SecurityAlert) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memoryAuditRepo) ListEntries(ctx context.Context, f EntryFilters, limit, offset int) ([]Entry, error) {
	if offset >= len(m.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	return m.entries[offset:end], nil
}

func (m *memoryAuditRepo) ListAlerts(ctx context.Context, limit, offset int) ([]SecurityAlert, error) {
	if offset >= len(m.alerts) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.alerts) {
		end = len(m.alerts)
	}
	return m.alerts[offset:end], nil
}

func (m *memoryAuditRepo) TouchPermissionSession(ctx context.Context, userID int64, sessionID, clientIP, userAgent, action string) error {
	m.touches = append(m.touches, action)
	return nil
}

func (m *memoryAuditRepo) ClosePermissionSessions(ctx context.Context, userID int64) error {
	m.closed = append(m.closed, userID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordCheckPersistsEntry(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, testLogger())

	svc.RecordCheck(context.Background(), authz.CheckRecord{
		UserID:     7,
		Permission: "patients.edit",
		Granted:    false,
		Reason:     "insufficient_permissions",
		Path:       "/patients/3",
		Method:     "PUT",
		At:         time.Now().UTC(),
	})

	require.Len(t, repo.entries, 1)
	require.Equal(t, "patients.edit", repo.entries[0].Permission)
	require.False(t, repo.entries[0].Granted)
}

func TestRecordCheckSwallowsRepositoryErrors(t *testing.T) {
	repo := &memoryAuditRepo{insertErr: errors.New("connection refused")}
	svc := NewService(repo, testLogger())

	// Must not panic and must not surface the error to the pipeline.
	svc.RecordCheck(context.Background(), authz.CheckRecord{UserID: 7})
	svc.RaiseAlert(context.Background(), authz.Alert{Title: "Privilege escalation blocked", UserID: 7})
	require.Empty(t, repo.entries)
	require.Empty(t, repo.alerts)
}

func TestRaiseAlertPersistsAlert(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, testLogger())

	svc.RaiseAlert(context.Background(), authz.Alert{
		Title:   "Role hierarchy violation",
		UserID:  7,
		Context: map[string]any{"path": "/roles"},
		At:      time.Now().UTC(),
	})

	require.Len(t, repo.alerts, 1)
	require.Equal(t, "Role hierarchy violation", repo.alerts[0].Title)
}

func TestActivityLogPaging(t *testing.T) {
	repo := &memoryAuditRepo{}
	for i := 0; i < 25; i++ {
		require.NoError(t, repo.InsertEntry(context.Background(), Entry{UserID: 7, Permission: fmt.Sprintf("perm.%d", i)}))
	}
	svc := NewService(repo, testLogger())

	first, err := svc.ActivityLog(context.Background(), EntryFilters{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, first.Entries, 20)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)
	require.Zero(t, first.Paging.PrevPage)

	second, err := svc.ActivityLog(context.Background(), EntryFilters{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, second.Entries, 5)
	require.False(t, second.Paging.HasNext)
	require.Equal(t, 1, second.Paging.PrevPage)
}

func TestActivityLogClampsPageSize(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, testLogger())

	res, err := svc.ActivityLog(context.Background(), EntryFilters{Page: 0, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 1, res.Paging.Page)
	require.Equal(t, 50, res.Paging.PageSize)

	res, err = svc.ActivityLog(context.Background(), EntryFilters{})
	require.NoError(t, err)
	require.Equal(t, 20, res.Paging.PageSize)
}

func TestTouchAndCloseSessions(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, testLogger())

	require.NoError(t, svc.Touch(context.Background(), 7, "sess-1", "10.0.0.1", "test-agent", "PUT /users/3/overrides"))
	require.Equal(t, []string{"PUT /users/3/overrides"}, repo.touches)

	require.NoError(t, svc.CloseSessions(context.Background(), 7))
	require.Equal(t, []int64{7}, repo.closed)
}
