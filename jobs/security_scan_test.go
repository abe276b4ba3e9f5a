package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian-hms/internal/audit"
	jobmetrics "github.com/meridian-hms/meridian-hms/internal/jobs"
)

type stubAuditStore struct {
	repeated []audit.DenialCount
	distinct []audit.DenialCount
	alerts   []audit.SecurityAlert
}

func (s *stubAuditStore) CountRepeatedDenials(ctx context.Context, since time.Time, threshold int) ([]audit.DenialCount, error) {
	return s.repeated, nil
}

func (s *stubAuditStore) CountDistinctDeniedPermissions(ctx context.Context, since time.Time, threshold int) ([]audit.DenialCount, error) {
	return s.distinct, nil
}

func (s *stubAuditStore) InsertAlert(ctx context.Context, a audit.SecurityAlert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func newTestScanJob(store *stubAuditStore) *SecurityScanJob {
	job := NewSecurityScanJob(store,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time {
		return time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)
	}
	return job
}

func TestSecurityScanRaisesAlertsThroughAuditStore(t *testing.T) {
	store := &stubAuditStore{
		repeated: []audit.DenialCount{{UserID: 7, Count: 60}},
		distinct: []audit.DenialCount{{UserID: 8, Count: 20}},
	}
	job := newTestScanJob(store)

	task, err := NewSecurityScanTask(SecurityScanPayload{WindowHours: 24})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, store.alerts, 2)
	require.Equal(t, "Sustained permission failures", store.alerts[0].Title)
	require.Equal(t, int64(7), store.alerts[0].UserID)
	require.Equal(t, "Permission scanning pattern", store.alerts[1].Title)
	require.Equal(t, int64(8), store.alerts[1].UserID)
	for _, a := range store.alerts {
		require.Equal(t, job.clock(), a.At)
		require.NotEmpty(t, a.Context)
	}
}

func TestSecurityScanNoFindingsNoAlerts(t *testing.T) {
	store := &stubAuditStore{}
	job := newTestScanJob(store)

	task, err := NewSecurityScanTask(SecurityScanPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Empty(t, store.alerts)
}

func TestSecurityScanMalformedPayloadSkipsRetry(t *testing.T) {
	job := newTestScanJob(&stubAuditStore{})

	err := job.Handle(context.Background(), asynq.NewTask(TaskSecurityScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
