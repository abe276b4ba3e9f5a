package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

type stubPrincipals map[int64]*Principal

func (s stubPrincipals) GetPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	p, ok := s[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

type fixedSessions int64

func (f fixedSessions) ActiveSessions(ctx context.Context, userID int64) (int64, error) {
	return int64(f), nil
}

type stubMFA struct {
	ok     bool
	detail string
}

func (s stubMFA) Compliant(ctx context.Context, userID int64) (bool, string, error) {
	return s.ok, s.detail, nil
}

type guardEnv struct {
	principals stubPrincipals
	roles      stubRoles
	grants     stubSource
	overrides  stubOverrides
	catalog    stubCatalog
	sessions   SessionCounter
	mfa        MFAProvider
	sink       *captureSink
}

func defaultGuardEnv() *guardEnv {
	doctor := &Role{
		ID:           2,
		Name:         "Doctor",
		Slug:         "doctor",
		Priority:     50,
		ModuleAccess: []string{"patients", "billing", "administration"},
	}
	return &guardEnv{
		principals: stubPrincipals{7: {UserID: 7, RoleID: ptrInt64(2)}},
		roles:      stubRoles{2: doctor},
		grants:     stubSource{7: {"patients.view", "billing.refund"}},
		overrides:  stubOverrides{},
		catalog:    stubCatalog{"patients.view", "billing.refund", "roles.edit"},
		sessions:   fixedSessions(1),
		mfa:        stubMFA{ok: true},
		sink:       &captureSink{},
	}
}

func (env *guardEnv) guard() *Guard {
	return NewGuard(GuardConfig{
		Principals: env.principals,
		Roles:      env.roles,
		Resolver:   NewResolver(env.catalog, env.overrides, env.grants),
		Sessions:   env.sessions,
		MFA:        env.mfa,
		SoD:        PairwiseSoDChecker{},
		Sink:       env.sink,
	})
}

func guardRequest(method, path, body, user string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	sess := &shared.Session{ID: "sess-1"}
	if user != "" {
		sess.SetUser(user)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func runGuard(g *Guard, req *http.Request, perms ...string) (*httptest.ResponseRecorder, map[string]struct{}) {
	var captured map[string]struct{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = PermissionsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rr := httptest.NewRecorder()
	g.Require(perms...)(next).ServeHTTP(rr, req)
	return rr, captured
}

func decodeReason(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestGuardAllowsGrantedPermission(t *testing.T) {
	env := defaultGuardEnv()
	rr, set := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients/42", "", "7"), "patients.view")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, set, "patients.view")
}

func TestGuardRejectsUnauthenticated(t *testing.T) {
	env := defaultGuardEnv()
	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", ""), "patients.view")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "unauthenticated", body["reason"])
}

func TestGuardSuperAdminNeverForbidden(t *testing.T) {
	env := defaultGuardEnv()
	// Broken role on purpose: the bypass must run before any hierarchy walk.
	env.principals[1] = &Principal{UserID: 1, RoleID: ptrInt64(99), SuperAdmin: true}

	rr, set := runGuard(env.guard(), guardRequest(http.MethodGet, "/roles", "", "1"), "roles.edit")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, set, "roles.edit")
	require.Empty(t, env.sink.alerts)
	require.Empty(t, env.sink.records)
}

func TestGuardHierarchyViolation(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[2].ParentRoleID = ptrInt64(99)

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "7"), "patients.view")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "role_hierarchy_violation", body["reason"])
	require.Equal(t, "invalid_parent_role", body["detail"])
	require.Equal(t, []string{"Role hierarchy violation"}, env.sink.alertTitles())
}

func TestGuardNoRoleAssigned(t *testing.T) {
	env := defaultGuardEnv()
	env.principals[9] = &Principal{UserID: 9}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "9"), "patients.view")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "role_hierarchy_violation", body["reason"])
	require.Equal(t, "no_role_assigned", body["detail"])
}

func TestGuardModuleAccessDenied(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[2].ModuleAccess = []string{"patients"}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/pharmacy", "", "7"), "pharmacy.view")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "module_access_denied", body["reason"])
	require.Len(t, env.sink.records, 1)
	require.False(t, env.sink.records[0].Granted)
}

func TestGuardMFARequiredForPrivilegedRoute(t *testing.T) {
	env := defaultGuardEnv()
	env.mfa = stubMFA{ok: false, detail: "mfa_not_enrolled"}
	env.grants[7] = append(env.grants[7], "roles.edit")

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/roles", `{"name":"Nurse"}`, "7"), "roles.edit")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "mfa_required", body["reason"])
	require.Equal(t, true, body["mfa_required"])
	require.Equal(t, "mfa_not_enrolled", body["detail"])
}

func TestGuardMFANotConsultedForReads(t *testing.T) {
	env := defaultGuardEnv()
	env.mfa = stubMFA{ok: false, detail: "mfa_not_enrolled"}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients/42", "", "7"), "patients.view")

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGuardSessionLimitExceeded(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[2].ConcurrentSessionLimit = ptrInt(3)
	env.sessions = fixedSessions(4)

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "7"), "patients.view")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "session_limit_exceeded", body["reason"])
}

func TestGuardSessionAtLimitAdmitted(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[2].ConcurrentSessionLimit = ptrInt(3)
	env.sessions = fixedSessions(3)

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "7"), "patients.view")

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGuardInsufficientPermissions(t *testing.T) {
	env := defaultGuardEnv()

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "7"), "patients.view", "patients.edit")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "insufficient_permissions", body["reason"])
	require.Equal(t, "patients.edit", body["permission"])
	require.Len(t, env.sink.records, 1)
	require.Equal(t, "patients.edit", env.sink.records[0].Permission)
}

func TestGuardDenyOverrideBlocksRoute(t *testing.T) {
	env := defaultGuardEnv()
	env.overrides[7] = []Override{{Permission: "patients.view", Allowed: false}}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "7"), "patients.view")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "insufficient_permissions", body["reason"])
}

func TestGuardSoDViolationOnCriticalRoute(t *testing.T) {
	env := defaultGuardEnv()
	env.grants[7] = []string{"billing.refund", "billing.refund-approve"}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/billing/refund", `{"invoice_id":3}`, "7"), "billing.refund")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "segregation_of_duties_violation", body["reason"])
	require.Equal(t, []string{"Segregation of duties violation"}, env.sink.alertTitles())
}

func TestGuardSoDIgnoredOnNonCriticalRoute(t *testing.T) {
	env := defaultGuardEnv()
	env.grants[7] = []string{"billing.view", "billing.refund", "billing.refund-approve"}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/billing/summary", "", "7"), "billing.view")

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGuardEscalationBlockedFromBody(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[9] = &Role{ID: 9, Name: "Chief", Priority: 90}
	env.grants[7] = append(env.grants[7], "users.edit")

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/users/5/role", `{"role_id":9}`, "7"), "users.edit")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "privilege_escalation_blocked", body["reason"])
	require.Equal(t, []string{"Privilege escalation blocked"}, env.sink.alertTitles())
}

func TestGuardEscalationAllowedByAssignableList(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[9] = &Role{ID: 9, Name: "Chief", Priority: 90}
	env.roles[2].AssignableRoleIDs = []int64{9}
	env.grants[7] = append(env.grants[7], "users.edit")

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/users/5/role", `{"role_id":9}`, "7"), "users.edit")

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGuardEscalationBlockedRegardlessOfContentType(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[9] = &Role{ID: 9, Name: "Chief", Priority: 90}
	env.grants[7] = append(env.grants[7], "users.edit")

	// Handlers decode JSON bodies whatever the declared type, so the guard
	// must find the role id here too.
	req := httptest.NewRequest(http.MethodPost, "/users/5/role", strings.NewReader(`{"role_id":9}`))
	req.Header.Set("Content-Type", "text/plain")
	sess := &shared.Session{ID: "sess-1"}
	sess.SetUser("7")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rr, _ := runGuard(env.guard(), req, "users.edit")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "privilege_escalation_blocked", body["reason"])
	require.Equal(t, []string{"Privilege escalation blocked"}, env.sink.alertTitles())
}

func TestGuardEscalationRejectsUninspectableBody(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[9] = &Role{ID: 9, Name: "Chief", Priority: 90}
	env.grants[7] = append(env.grants[7], "users.edit")

	// Role id hidden past the inspection cap must fail closed, not slip by.
	pad := strings.Repeat("a", escalationProbeLimit)
	payload := `{"pad":"` + pad + `","role_id":9}`
	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/users/5/role", payload, "7"), "users.edit")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "privilege_escalation_blocked", body["reason"])
	require.Equal(t, []string{"Privilege escalation blocked"}, env.sink.alertTitles())
}

func TestGuardEscalationUnknownTargetRoleForbidden(t *testing.T) {
	env := defaultGuardEnv()
	env.grants[7] = append(env.grants[7], "users.edit")

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/users/5/role", `{"role_id":404}`, "7"), "users.edit")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "privilege_escalation_blocked", body["reason"])
}

func TestGuardReceptionDeniedBillingRefund(t *testing.T) {
	env := defaultGuardEnv()
	env.roles[2] = &Role{ID: 2, Name: "Reception", Slug: "reception", Priority: 20, ModuleAccess: []string{"patients", "appointments"}}
	env.grants[7] = []string{"billing.refund"}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodPost, "/billing/refund", `{"invoice_id":3}`, "7"), "billing.refund")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "module_access_denied", body["reason"])
}

func TestGuardDenyOverrideOnActivityLogs(t *testing.T) {
	env := defaultGuardEnv()
	env.grants[7] = append(env.grants[7], "view-activity-logs")
	env.overrides[7] = []Override{{Permission: "view-activity-logs", Allowed: false}}

	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/admin/activity-logs", "", "7"), "view-activity-logs")

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeReason(t, rr)
	require.Equal(t, "insufficient_permissions", body["reason"])
	require.Equal(t, "view-activity-logs", body["permission"])
}

func TestGuardUnknownUserRejected(t *testing.T) {
	env := defaultGuardEnv()
	rr, _ := runGuard(env.guard(), guardRequest(http.MethodGet, "/patients", "", "404"), "patients.view")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
