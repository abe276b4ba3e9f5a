package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// MonitorConfig bounds the denial heuristics.
type MonitorConfig struct {
	// Window is the sliding window denials are counted over.
	Window time.Duration
	// FailureThreshold is the denial count per user that raises an alert.
	FailureThreshold int
	// ScanThreshold is the count of distinct missing permissions per user
	// that flags permission scanning.
	ScanThreshold int
}

// Monitor watches permission denials for abuse patterns: rapid repeated
// failures and scanning across many distinct permissions. Counters live in
// Redis with the window as TTL; monitor failures are logged and swallowed
// so they can never block a request.
type Monitor struct {
	client *redis.Client
	sink   AuditSink
	logger *slog.Logger
	cfg    MonitorConfig
}

// NewMonitor constructs a Monitor.
func NewMonitor(client *redis.Client, sink AuditSink, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 10
	}
	if cfg.ScanThreshold <= 0 {
		cfg.ScanThreshold = 5
	}
	return &Monitor{client: client, sink: sink, logger: logger, cfg: cfg}
}

// ObserveDenial records one denial and raises alerts when a threshold is
// crossed. Alerts fire once per window per user per pattern.
func (m *Monitor) ObserveDenial(ctx context.Context, userID int64, permission, clientIP string) {
	if m == nil || m.client == nil {
		return
	}
	count, err := m.bumpCounter(ctx, failKey(userID))
	if err != nil {
		m.warn("denial counter", err)
		return
	}
	if count == int64(m.cfg.FailureThreshold) {
		m.sink.RaiseAlert(ctx, Alert{
			Title:       "Rapid permission failures",
			Description: fmt.Sprintf("user %d hit %d denials within %s", userID, count, m.cfg.Window),
			UserID:      userID,
			Context:     map[string]any{"denials": count, "window": m.cfg.Window.String(), "client_ip": clientIP},
			At:          time.Now().UTC(),
		})
	}

	if permission == "" {
		return
	}
	distinct, err := m.bumpScanSet(ctx, userID, permission)
	if err != nil {
		m.warn("scan set", err)
		return
	}
	if distinct == int64(m.cfg.ScanThreshold) {
		m.sink.RaiseAlert(ctx, Alert{
			Title:       "Permission scanning detected",
			Description: fmt.Sprintf("user %d probed %d distinct permissions within %s", userID, distinct, m.cfg.Window),
			UserID:      userID,
			Context:     map[string]any{"distinct_permissions": distinct, "window": m.cfg.Window.String(), "client_ip": clientIP},
			At:          time.Now().UTC(),
		})
	}
}

func (m *Monitor) bumpCounter(ctx context.Context, key string) (int64, error) {
	pipe := m.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, m.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (m *Monitor) bumpScanSet(ctx context.Context, userID int64, permission string) (int64, error) {
	key := scanKey(userID)
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, key, permission)
	pipe.Expire(ctx, key, m.cfg.Window)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (m *Monitor) warn(op string, err error) {
	if m.logger != nil {
		m.logger.Warn("authz monitor "+op, slog.Any("error", err))
	}
}

func failKey(userID int64) string {
	return fmt.Sprintf("authz:denials:user:%d", userID)
}

func scanKey(userID int64) string {
	return fmt.Sprintf("authz:scan:user:%d", userID)
}
