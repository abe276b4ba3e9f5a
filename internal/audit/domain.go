package audit

import "time"

// Entry is one append-only record of a permission decision.
type Entry struct {
	ID         int64
	UserID     int64
	Permission string
	Granted    bool
	Reason     string
	Path       string
	Method     string
	ClientIP   string
	TraceID    string
	At         time.Time
}

// SecurityAlert is a derived security event. Never mutated after creation.
type SecurityAlert struct {
	ID          string
	Title       string
	Description string
	UserID      int64
	Context     map[string]any
	At          time.Time
}

// DenialCount aggregates denied checks for one user over a scan window.
type DenialCount struct {
	UserID int64
	Count  int64
}

// EntryFilters narrows activity log listings.
type EntryFilters struct {
	UserID   int64
	Granted  *bool
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}
