package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecurityScan is the task type for the nightly audit log sweep.
	TaskSecurityScan = "security:scan"
	// TaskSessionSweep is the task type for expiring stale login sessions.
	TaskSessionSweep = "sessions:sweep"
)

// SecurityScanPayload tunes the audit log sweep.
type SecurityScanPayload struct {
	WindowHours      int `json:"window_hours"`
	FailureThreshold int `json:"failure_threshold"`
	ScanThreshold    int `json:"scan_threshold"`
}

// NewSecurityScanTask constructs an Asynq task for the nightly sweep.
func NewSecurityScanTask(payload SecurityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityScan, data), nil
}

// SessionSweepPayload tunes the stale session cleanup.
type SessionSweepPayload struct {
	GraceHours int `json:"grace_hours"`
}

// NewSessionSweepTask constructs an Asynq task for session cleanup.
func NewSessionSweepTask(payload SessionSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}
