package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEntry appends one permission decision record.
func (r *Repository) InsertEntry(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permission_audit_logs (user_id, permission, granted, reason, path, method, client_ip, trace_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		e.UserID, e.Permission, e.Granted, e.Reason, e.Path, e.Method, e.ClientIP, e.TraceID, toPgTime(e.At))
	return err
}

// InsertAlert appends one security alert.
func (r *Repository) InsertAlert(ctx context.Context, a SecurityAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	contextJSON, err := json.Marshal(a.Context)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO security_alerts (id, title, description, user_id, context, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		a.ID, a.Title, a.Description, a.UserID, contextJSON, toPgTime(a.At))
	return err
}

// ListEntries returns a page of decision records newest first. It fetches
// one extra row to detect whether a next page exists.
func (r *Repository) ListEntries(ctx context.Context, f EntryFilters, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, permission, granted, reason, path, method, client_ip, trace_id, occurred_at
		 FROM permission_audit_logs
		 WHERE ($1 = 0 OR user_id = $1)
		   AND ($2::boolean IS NULL OR granted = $2)
		   AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		   AND ($4::timestamptz IS NULL OR occurred_at <= $4)
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $5 OFFSET $6`,
		f.UserID, toPgBool(f.Granted), toPgTime(f.From), toPgTime(f.To), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			at pgtype.Timestamptz
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Permission, &e.Granted, &e.Reason, &e.Path, &e.Method, &e.ClientIP, &e.TraceID, &at); err != nil {
			return nil, err
		}
		e.At = at.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAlerts returns a page of alerts newest first.
func (r *Repository) ListAlerts(ctx context.Context, limit, offset int) ([]SecurityAlert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, user_id, context, occurred_at
		 FROM security_alerts
		 ORDER BY occurred_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []SecurityAlert
	for rows.Next() {
		var (
			a           SecurityAlert
			contextJSON []byte
			at          pgtype.Timestamptz
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.UserID, &contextJSON, &at); err != nil {
			return nil, err
		}
		if len(contextJSON) > 0 {
			_ = json.Unmarshal(contextJSON, &a.Context)
		}
		a.At = at.Time
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountRepeatedDenials returns users whose denial count inside the window
// reaches the threshold, most denials first.
func (r *Repository) CountRepeatedDenials(ctx context.Context, since time.Time, threshold int) ([]DenialCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, count(*) AS denials
		 FROM permission_audit_logs
		 WHERE granted = false AND occurred_at >= $1
		 GROUP BY user_id
		 HAVING count(*) >= $2
		 ORDER BY denials DESC`, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDenialCounts(rows)
}

// CountDistinctDeniedPermissions returns users denied on at least threshold
// distinct permissions inside the window, widest spread first.
func (r *Repository) CountDistinctDeniedPermissions(ctx context.Context, since time.Time, threshold int) ([]DenialCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, count(DISTINCT permission) AS probed
		 FROM permission_audit_logs
		 WHERE granted = false AND occurred_at >= $1
		 GROUP BY user_id
		 HAVING count(DISTINCT permission) >= $2
		 ORDER BY probed DESC`, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDenialCounts(rows)
}

func collectDenialCounts(rows pgx.Rows) ([]DenialCount, error) {
	var counts []DenialCount
	for rows.Next() {
		var c DenialCount
		if err := rows.Scan(&c.UserID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// TouchPermissionSession opens or extends the user's permission-management
// session and appends one action to its log.
func (r *Repository) TouchPermissionSession(ctx context.Context, userID int64, sessionID, clientIP, userAgent, action string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permission_sessions (user_id, session_id, client_ip, user_agent, started_at, actions)
		 VALUES ($1, $2, $3, $4, NOW(), jsonb_build_array($5::text))
		 ON CONFLICT (user_id) WHERE ended_at IS NULL
		 DO UPDATE SET actions = permission_sessions.actions || jsonb_build_array($5::text)`,
		userID, sessionID, clientIP, userAgent, action)
	return err
}

// ClosePermissionSessions ends any open permission-management session.
func (r *Repository) ClosePermissionSessions(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE permission_sessions SET ended_at = NOW() WHERE user_id = $1 AND ended_at IS NULL`, userID)
	return err
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func toPgBool(v *bool) pgtype.Bool {
	if v == nil {
		return pgtype.Bool{}
	}
	return pgtype.Bool{Bool: *v, Valid: true}
}
