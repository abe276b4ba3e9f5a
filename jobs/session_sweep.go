package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-hms/meridian-hms/internal/jobs"
)

// SessionSweepJob removes login sessions past their expiry plus a grace
// period, and closes permission-management sessions left open by crashes.
type SessionSweepJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob initialises the sweep handler.
func NewSessionSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GraceHours <= 0 {
		payload.GraceHours = 24
	}

	tracker := j.metrics().Track(TaskSessionSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := time.Now().UTC().Add(-time.Duration(payload.GraceHours) * time.Hour)
	tag, err := j.Pool.Exec(ctx, `DELETE FROM login_sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		resultErr = err
		return resultErr
	}
	closed, err := j.Pool.Exec(ctx, `
		UPDATE permission_sessions SET ended_at = now()
		WHERE ended_at IS NULL AND started_at < $1`, cutoff)
	if err != nil {
		resultErr = err
		return resultErr
	}

	j.logger().Info("completed session sweep",
		slog.Int64("login_sessions_removed", tag.RowsAffected()),
		slog.Int64("permission_sessions_closed", closed.RowsAffected()),
	)
	return resultErr
}

func (j *SessionSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionSweep))
	}
	return slog.Default().With(slog.String("job", TaskSessionSweep))
}
