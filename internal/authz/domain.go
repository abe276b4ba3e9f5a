// Package authz implements the layered access decision pipeline guarding
// every authorization-checked route: role hierarchy validation, module
// access, data-visibility scope, privilege-escalation prevention, MFA
// gating, concurrent-session limiting, effective-permission membership and
// segregation-of-duties checks, in that fixed order.
package authz

import (
	"context"
	"time"
)

// Reason is the machine-readable discriminator attached to every rejection.
type Reason string

// Rejection reasons. Each maps to exactly one terminal pipeline state.
const (
	ReasonUnauthenticated         Reason = "unauthenticated"
	ReasonHierarchyViolation      Reason = "role_hierarchy_violation"
	ReasonModuleAccessDenied      Reason = "module_access_denied"
	ReasonDataScopeDenied         Reason = "data_scope_denied"
	ReasonEscalationBlocked       Reason = "privilege_escalation_blocked"
	ReasonMFARequired             Reason = "mfa_required"
	ReasonSessionLimitExceeded    Reason = "session_limit_exceeded"
	ReasonInsufficientPermissions Reason = "insufficient_permissions"
	ReasonSoDViolation            Reason = "segregation_of_duties_violation"
)

// Hierarchy check detail codes.
const (
	HierarchyNoRole          = "no_role_assigned"
	HierarchyInvalidParent   = "invalid_parent_role"
	HierarchyCircular        = "circular_hierarchy_detected"
	HierarchyPriorityInvalid = "parent_role_priority_invalid"
)

// Module check detail codes for allowed outcomes.
const (
	ModuleWildcardAccess   = "wildcard_access"
	ModuleNoModuleDetected = "no_module_detected"
	ModuleAllowed          = "module_allowed"
)

// Session check detail codes.
const (
	SessionNoLimit     = "no_limit"
	SessionWithinLimit = "within_limit"
)

// Principal describes the authenticated actor as seen by the pipeline.
type Principal struct {
	UserID     int64
	RoleID     *int64
	LegacyRole string
	SuperAdmin bool
	SessionID  string
}

// Role is the pipeline's read view of a role row.
type Role struct {
	ID                     int64
	Name                   string
	Slug                   string
	ParentRoleID           *int64
	Priority               int
	ModuleAccess           []string
	DataVisibilityScope    map[string]string
	ConcurrentSessionLimit *int
	AssignableRoleIDs      []int64
}

// Permission is an immutable catalog entry; Name is the key used everywhere.
type Permission struct {
	ID        int64
	Name      string
	Category  string
	Module    string
	RiskLevel string
}

// Override is a per-user permission override; deny wins over any grant.
type Override struct {
	Permission string
	Allowed    bool
}

// Decision is the terminal outcome of running the pipeline on a request.
type Decision struct {
	Allowed     bool
	Status      int
	Reason      Reason
	Detail      string
	Permission  string
	MFARequired bool
	TraceID     string
}

// CheckRecord is one audit entry for a permission decision.
type CheckRecord struct {
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

// Alert is a derived security event raised at elevated severity.
type Alert struct {
	Title       string
	Description string
	UserID      int64
	Context     map[string]any
	At          time.Time
}

// PrincipalStore resolves the acting user.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, userID int64) (*Principal, error)
}

// RoleStore resolves roles by id for hierarchy walks and escalation checks.
type RoleStore interface {
	GetRole(ctx context.Context, id int64) (*Role, error)
}

// PermissionSource yields the permission names one backing table grants a
// principal. The resolver unions every configured source.
type PermissionSource interface {
	Resolve(ctx context.Context, p *Principal) (map[string]struct{}, error)
}

// OverrideStore yields per-user overrides, applied after all sources.
type OverrideStore interface {
	Overrides(ctx context.Context, userID int64) ([]Override, error)
}

// CatalogStore lists the full permission catalog (super-admin escape hatch).
type CatalogStore interface {
	AllPermissionNames(ctx context.Context) ([]string, error)
}

// SessionCounter reports live session counts per user.
type SessionCounter interface {
	ActiveSessions(ctx context.Context, userID int64) (int64, error)
}

// MFAProvider reports whether a user satisfies MFA requirements.
type MFAProvider interface {
	Compliant(ctx context.Context, userID int64) (bool, string, error)
}

// SoDChecker detects conflicting permission combinations on critical routes.
type SoDChecker interface {
	Violations(ctx context.Context, p *Principal, granted map[string]struct{}) ([]string, error)
}

// AuditSink receives every decision record and derived alert. Sink failures
// never change a decision.
type AuditSink interface {
	RecordCheck(ctx context.Context, rec CheckRecord)
	RaiseAlert(ctx context.Context, alert Alert)
}
