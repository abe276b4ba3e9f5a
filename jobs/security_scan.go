package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-hms/meridian-hms/internal/audit"
	jobmetrics "github.com/meridian-hms/meridian-hms/internal/jobs"
)

// SecurityAuditStore is the slice of the audit repository the sweep needs.
// The repository owns the audit schema; the job never issues its own SQL.
type SecurityAuditStore interface {
	CountRepeatedDenials(ctx context.Context, since time.Time, threshold int) ([]audit.DenialCount, error)
	CountDistinctDeniedPermissions(ctx context.Context, since time.Time, threshold int) ([]audit.DenialCount, error)
	InsertAlert(ctx context.Context, a audit.SecurityAlert) error
}

// SecurityScanJob sweeps the permission audit log for abuse patterns the
// realtime monitor cannot see, such as failures spread across a long window.
type SecurityScanJob struct {
	Store   SecurityAuditStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecurityScanJob initialises the security scan handler.
func NewSecurityScanJob(store SecurityAuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityScanJob {
	return &SecurityScanJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type scanFinding struct {
	UserID      int64
	Severity    string
	Title       string
	Description string
	Context     map[string]any
}

// Handle executes the audit log sweep.
func (j *SecurityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("security scan: handler not configured")
	}
	var payload SecurityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24
	}
	if payload.FailureThreshold <= 0 {
		payload.FailureThreshold = 50
	}
	if payload.ScanThreshold <= 0 {
		payload.ScanThreshold = 15
	}

	tracker := j.metrics().Track(TaskSecurityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int("window_hours", payload.WindowHours),
		slog.Int("failure_threshold", payload.FailureThreshold),
		slog.Int("scan_threshold", payload.ScanThreshold),
	)
	logger.Info("starting security scan")

	since := j.now().Add(-time.Duration(payload.WindowHours) * time.Hour)

	var repeated, scanning []scanFinding
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := j.Store.CountRepeatedDenials(gctx, since, payload.FailureThreshold)
		if err != nil {
			return err
		}
		repeated = repeatedFailureFindings(counts, since)
		return nil
	})
	g.Go(func() error {
		counts, err := j.Store.CountDistinctDeniedPermissions(gctx, since, payload.ScanThreshold)
		if err != nil {
			return err
		}
		scanning = permissionScanningFindings(counts, since)
		return nil
	})
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	findings := append(repeated, scanning...)
	for _, f := range findings {
		logger.Warn("security finding",
			slog.Int64("user_id", f.UserID),
			slog.String("severity", f.Severity),
			slog.String("title", f.Title),
		)
		j.metrics().AddFindings(f.Severity, f.UserID, 1)
		if err := j.raiseAlert(ctx, f); err != nil {
			logger.Error("raise alert", slog.Any("error", err))
		}
	}

	logger.Info("completed security scan", slog.Int("findings", len(findings)))
	return resultErr
}

// repeatedFailureFindings flags users whose denial count over the window
// cleared the threshold. The realtime monitor only counts per short slices.
func repeatedFailureFindings(counts []audit.DenialCount, since time.Time) []scanFinding {
	findings := make([]scanFinding, 0, len(counts))
	for _, c := range counts {
		findings = append(findings, scanFinding{
			UserID:      c.UserID,
			Severity:    "HIGH",
			Title:       "Sustained permission failures",
			Description: fmt.Sprintf("user %d accumulated %d denials since %s", c.UserID, c.Count, since.Format(time.RFC3339)),
			Context: map[string]any{
				"denials": c.Count,
				"since":   since.Format(time.RFC3339),
			},
		})
	}
	return findings
}

// permissionScanningFindings flags users probing many distinct permissions
// over the window, a slow-scan variant of the realtime heuristic.
func permissionScanningFindings(counts []audit.DenialCount, since time.Time) []scanFinding {
	findings := make([]scanFinding, 0, len(counts))
	for _, c := range counts {
		findings = append(findings, scanFinding{
			UserID:      c.UserID,
			Severity:    "MEDIUM",
			Title:       "Permission scanning pattern",
			Description: fmt.Sprintf("user %d probed %d distinct permissions since %s", c.UserID, c.Count, since.Format(time.RFC3339)),
			Context: map[string]any{
				"distinct_permissions": c.Count,
				"since":                since.Format(time.RFC3339),
			},
		})
	}
	return findings
}

func (j *SecurityScanJob) raiseAlert(ctx context.Context, f scanFinding) error {
	return j.Store.InsertAlert(ctx, audit.SecurityAlert{
		Title:       f.Title,
		Description: f.Description,
		UserID:      f.UserID,
		Context:     f.Context,
		At:          j.now(),
	})
}

func (j *SecurityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecurityScan))
	}
	return slog.Default().With(slog.String("job", TaskSecurityScan))
}

func (j *SecurityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *SecurityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
