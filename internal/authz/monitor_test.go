package authz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	records []CheckRecord
	alerts  []Alert
}

func (s *captureSink) RecordCheck(ctx context.Context, rec CheckRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *captureSink) RaiseAlert(ctx context.Context, alert Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *captureSink) alertTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := make([]string, len(s.alerts))
	for i, a := range s.alerts {
		titles[i] = a.Title
	}
	return titles
}

func newTestMonitor(t *testing.T, cfg MonitorConfig) (*Monitor, *captureSink) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sink := &captureSink{}
	return NewMonitor(client, sink, nil, cfg), sink
}

func TestMonitorBelowThresholdNoAlert(t *testing.T) {
	monitor, sink := newTestMonitor(t, MonitorConfig{Window: time.Minute, FailureThreshold: 5, ScanThreshold: 10})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		monitor.ObserveDenial(ctx, 7, "patients.view", "10.0.0.1")
	}
	require.Empty(t, sink.alerts)
}

func TestMonitorAlertFiresOnceAtThreshold(t *testing.T) {
	monitor, sink := newTestMonitor(t, MonitorConfig{Window: time.Minute, FailureThreshold: 5, ScanThreshold: 100})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		monitor.ObserveDenial(ctx, 7, "patients.view", "10.0.0.1")
	}
	titles := sink.alertTitles()
	require.Equal(t, []string{"Rapid permission failures"}, titles)
}

func TestMonitorScanAlertOnDistinctPermissions(t *testing.T) {
	monitor, sink := newTestMonitor(t, MonitorConfig{Window: time.Minute, FailureThreshold: 100, ScanThreshold: 3})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		monitor.ObserveDenial(ctx, 7, fmt.Sprintf("perm-%d", i), "10.0.0.1")
	}
	titles := sink.alertTitles()
	require.Equal(t, []string{"Permission scanning detected"}, titles)
}

func TestMonitorRepeatedPermissionDoesNotScanAlert(t *testing.T) {
	monitor, sink := newTestMonitor(t, MonitorConfig{Window: time.Minute, FailureThreshold: 100, ScanThreshold: 3})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		monitor.ObserveDenial(ctx, 7, "patients.view", "10.0.0.1")
	}
	require.Empty(t, sink.alerts)
}

func TestMonitorTracksUsersIndependently(t *testing.T) {
	monitor, sink := newTestMonitor(t, MonitorConfig{Window: time.Minute, FailureThreshold: 3, ScanThreshold: 100})
	ctx := context.Background()
	monitor.ObserveDenial(ctx, 7, "patients.view", "10.0.0.1")
	monitor.ObserveDenial(ctx, 7, "patients.view", "10.0.0.1")
	monitor.ObserveDenial(ctx, 8, "patients.view", "10.0.0.2")
	require.Empty(t, sink.alerts)

	monitor.ObserveDenial(ctx, 7, "patients.view", "10.0.0.1")
	alerts := sink.alertTitles()
	require.Len(t, alerts, 1)
}
