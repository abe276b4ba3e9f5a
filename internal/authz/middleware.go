package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// escalationProbeLimit caps how much of a request body the guard reads when
// looking for target role identifiers.
const escalationProbeLimit = 64 << 10

// DecisionObserver receives every terminal decision, e.g. for metrics.
type DecisionObserver interface {
	ObserveDecision(allowed bool, reason string)
}

// PermissionSessionTracker records activity inside permission-management
// routes. Failures are logged, never fatal.
type PermissionSessionTracker interface {
	Touch(ctx context.Context, userID int64, sessionID, clientIP, userAgent, action string) error
}

// GuardConfig collects the pipeline's collaborators.
type GuardConfig struct {
	Principals PrincipalStore
	Roles      RoleStore
	Resolver   *Resolver
	Sessions   SessionCounter
	MFA        MFAProvider
	SoD        SoDChecker
	Sink       AuditSink
	Monitor    *Monitor
	Tracker    PermissionSessionTracker
	HighRisk   HighRiskFunc
	Observer   DecisionObserver
	Logger     *slog.Logger
}

// Guard runs the fixed-order access decision pipeline as HTTP middleware.
// Every rejection is terminal for the request; internal faults deny, never
// allow.
type Guard struct {
	cfg GuardConfig
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg}
}

// Require returns middleware enforcing the full pipeline plus membership of
// every named permission, in declaration order.
func (g *Guard) Require(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, set := g.decide(r, required)
			if !decision.Allowed {
				g.reject(w, r, decision)
				return
			}
			ctx := ContextWithPermissions(r.Context(), set)
			g.trackPermissionSession(r, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Protect returns middleware enforcing the pipeline without named
// permissions, for routes guarded only by module access and role state.
func (g *Guard) Protect() func(http.Handler) http.Handler {
	return g.Require()
}

func (g *Guard) decide(r *http.Request, required []string) (decision Decision, set map[string]struct{}) {
	ctx := r.Context()
	traceID := requestTrace(r)

	defer func() {
		if rec := recover(); rec != nil {
			g.logError("pipeline panic", errors.New("recovered panic"), slog.Any("panic", rec))
			decision = Decision{Status: http.StatusInternalServerError, TraceID: traceID}
			set = nil
		}
		if g.cfg.Observer != nil {
			g.cfg.Observer.ObserveDecision(decision.Allowed, string(decision.Reason))
		}
	}()

	p, ok := g.principal(r)
	if !ok {
		return Decision{Status: http.StatusUnauthorized, Reason: ReasonUnauthenticated, TraceID: traceID}, nil
	}

	// Super-admin accounts bypass the pipeline entirely: the hierarchy
	// requirement does not apply to them and no check below may 403 them.
	if p.SuperAdmin {
		full, err := g.cfg.Resolver.EffectivePermissions(ctx, p)
		if err != nil {
			g.logError("resolve super-admin catalog", err)
			return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
		}
		g.debugTrace(r, p, "super_admin_bypass")
		return Decision{Allowed: true, TraceID: traceID}, full
	}

	var role *Role
	if p.RoleID != nil {
		loaded, err := g.cfg.Roles.GetRole(ctx, *p.RoleID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			g.logError("load role", err)
			return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
		}
		role = loaded
	}

	// 1. Hierarchy validity.
	hier, err := ValidateHierarchy(ctx, g.cfg.Roles, role)
	if err != nil {
		g.logError("validate hierarchy", err)
		return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
	}
	if !hier.Valid {
		g.alert(ctx, p, "Role hierarchy violation", hier.Reason, r)
		return Decision{Status: http.StatusForbidden, Reason: ReasonHierarchyViolation, Detail: hier.Reason, TraceID: traceID}, nil
	}

	// 2. Module access.
	if mod := ValidateModuleAccess(role, r.URL.Path); !mod.Allowed {
		g.audit(ctx, p, "", false, string(ReasonModuleAccessDenied), r, traceID)
		return Decision{Status: http.StatusForbidden, Reason: ReasonModuleAccessDenied, Detail: mod.Module, TraceID: traceID}, nil
	}

	// 3. Data-visibility scope.
	if scope := ValidateDataScope(role, r.URL.Path); !scope.Allowed {
		g.audit(ctx, p, "", false, string(ReasonDataScopeDenied), r, traceID)
		return Decision{Status: http.StatusForbidden, Reason: ReasonDataScopeDenied, TraceID: traceID}, nil
	}

	// 4. Escalation prevention.
	target, inspected := extractEscalationTarget(r)
	if !inspected {
		g.alert(ctx, p, "Privilege escalation blocked", "request body exceeds inspection limit", r)
		return Decision{Status: http.StatusForbidden, Reason: ReasonEscalationBlocked, TraceID: traceID}, nil
	}
	esc, err := PreventEscalation(ctx, g.cfg.Roles, p, role, target)
	if err != nil {
		g.logError("prevent escalation", err)
		return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
	}
	if !esc.Allowed {
		g.alert(ctx, p, "Privilege escalation blocked", string(ReasonEscalationBlocked), r)
		return Decision{Status: http.StatusForbidden, Reason: ReasonEscalationBlocked, TraceID: traceID}, nil
	}

	// 5. MFA gate for privileged operations.
	if IsPrivilegedOperation(r.Method, r.URL.Path, g.cfg.HighRisk) {
		compliant, detail, err := g.cfg.MFA.Compliant(ctx, p.UserID)
		if err != nil {
			g.logError("mfa compliance", err)
			return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
		}
		if !compliant {
			g.audit(ctx, p, "", false, string(ReasonMFARequired), r, traceID)
			return Decision{Status: http.StatusForbidden, Reason: ReasonMFARequired, Detail: detail, MFARequired: true, TraceID: traceID}, nil
		}
	}

	// 6. Concurrent session limit.
	sess, err := ValidateSessions(ctx, g.cfg.Sessions, p, role)
	if err != nil {
		g.logError("validate sessions", err)
		return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
	}
	if !sess.Valid {
		g.audit(ctx, p, "", false, string(ReasonSessionLimitExceeded), r, traceID)
		return Decision{Status: http.StatusForbidden, Reason: ReasonSessionLimitExceeded, TraceID: traceID}, nil
	}

	// 7-8. Effective permission membership, first missing wins.
	granted, err := g.cfg.Resolver.EffectivePermissions(ctx, p)
	if err != nil {
		g.logError("resolve permissions", err)
		return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
	}
	for _, perm := range required {
		if _, ok := granted[perm]; ok {
			continue
		}
		g.audit(ctx, p, perm, false, string(ReasonInsufficientPermissions), r, traceID)
		if g.cfg.Monitor != nil {
			g.cfg.Monitor.ObserveDenial(ctx, p.UserID, perm, clientIP(r))
		}
		return Decision{Status: http.StatusForbidden, Reason: ReasonInsufficientPermissions, Permission: perm, TraceID: traceID}, nil
	}

	// 9. Segregation of duties on critical operations.
	if g.cfg.SoD != nil && IsCriticalOperation(r.Method, r.URL.Path) {
		violations, err := g.cfg.SoD.Violations(ctx, p, granted)
		if err != nil {
			g.logError("segregation of duties", err)
			return Decision{Status: http.StatusInternalServerError, TraceID: traceID}, nil
		}
		if len(violations) > 0 {
			g.alert(ctx, p, "Segregation of duties violation", strings.Join(violations, "; "), r)
			return Decision{Status: http.StatusForbidden, Reason: ReasonSoDViolation, Detail: violations[0], TraceID: traceID}, nil
		}
	}

	g.debugTrace(r, p, "allowed")
	return Decision{Allowed: true, TraceID: traceID}, granted
}

func (g *Guard) principal(r *http.Request) (*Principal, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		g.logError("parse user id", err, slog.String("value", raw))
		return nil, false
	}
	p, err := g.cfg.Principals.GetPrincipal(r.Context(), id)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			g.logError("load principal", err)
		}
		return nil, false
	}
	p.SessionID = sess.ID
	return p, true
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, d Decision) {
	if d.Status == http.StatusInternalServerError {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	body := map[string]any{
		"reason": string(d.Reason),
	}
	if d.Detail != "" {
		body["detail"] = d.Detail
	}
	if d.Permission != "" {
		body["permission"] = d.Permission
	}
	if d.MFARequired {
		body["mfa_required"] = true
	}
	if d.TraceID != "" {
		body["trace_id"] = d.TraceID
	}
	httpx.JSON(w, d.Status, body)
}

func (g *Guard) audit(ctx context.Context, p *Principal, permission string, granted bool, reason string, r *http.Request, traceID string) {
	if g.cfg.Sink == nil {
		return
	}
	g.cfg.Sink.RecordCheck(ctx, CheckRecord{
		UserID:     p.UserID,
		Permission: permission,
		Granted:    granted,
		Reason:     reason,
		Path:       r.URL.Path,
		Method:     r.Method,
		ClientIP:   clientIP(r),
		TraceID:    traceID,
		At:         time.Now().UTC(),
	})
}

func (g *Guard) alert(ctx context.Context, p *Principal, title, detail string, r *http.Request) {
	if g.cfg.Sink == nil {
		return
	}
	g.cfg.Sink.RaiseAlert(ctx, Alert{
		Title:       title,
		Description: detail,
		UserID:      p.UserID,
		Context: map[string]any{
			"path":      r.URL.Path,
			"method":    r.Method,
			"client_ip": clientIP(r),
		},
		At: time.Now().UTC(),
	})
}

func (g *Guard) trackPermissionSession(r *http.Request, d Decision) {
	if g.cfg.Tracker == nil || DeriveModule(r.URL.Path) != "administration" {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		return
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return
	}
	action := r.Method + " " + r.URL.Path
	if err := g.cfg.Tracker.Touch(r.Context(), userID, sess.ID, clientIP(r), r.UserAgent(), action); err != nil {
		g.logError("permission session", err)
	}
}

func (g *Guard) debugTrace(r *http.Request, p *Principal, outcome string) {
	if g.cfg.Logger == nil {
		return
	}
	g.cfg.Logger.Debug("authz decision",
		slog.Int64("user_id", p.UserID),
		slog.String("path", r.URL.Path),
		slog.String("outcome", outcome),
	)
}

func (g *Guard) logError(msg string, err error, attrs ...any) {
	if g.cfg.Logger == nil {
		return
	}
	args := append([]any{slog.Any("error", err)}, attrs...)
	g.cfg.Logger.Error("authz "+msg, args...)
}

// extractEscalationTarget pulls the target user id from the route and peeks
// at role identifiers in the body without consuming it. Handlers decode JSON
// bodies regardless of Content-Type, so the peek must too. The second return
// is false when the body is too large to inspect in full; callers must treat
// that as a failed check, never as "no target".
func extractEscalationTarget(r *http.Request) (EscalationTarget, bool) {
	var target EscalationTarget
	if strings.HasPrefix(r.URL.Path, "/users/") {
		if raw := chi.URLParam(r, "id"); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				target.UserID = id
			}
		}
	}
	if r.Body == nil || r.Body == http.NoBody {
		return target, true
	}
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return target, true
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, escalationProbeLimit+1))
	if err != nil {
		return target, false
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), r.Body), r.Body}

	if len(data) > escalationProbeLimit {
		// A role id could hide past the cap.
		return target, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return target, true
	}

	var probe struct {
		RoleID       int64 `json:"role_id"`
		TargetRoleID int64 `json:"target_role_id"`
		TargetUserID int64 `json:"target_user_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		// A payload that does not parse as JSON cannot deliver a role id to
		// the handler either.
		return target, true
	}
	if probe.TargetUserID != 0 {
		target.UserID = probe.TargetUserID
	}
	switch {
	case probe.TargetRoleID != 0:
		target.RoleID = probe.TargetRoleID
	case probe.RoleID != 0:
		target.RoleID = probe.RoleID
	}
	return target, true
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}

func requestTrace(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return chimw.GetReqID(r.Context())
}
