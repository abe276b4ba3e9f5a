package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveModule(t *testing.T) {
	cases := map[string]string{
		"/patients/42":       "patients",
		"/appointments":      "appointments",
		"/wallet/topup":      "billing",
		"/billing/refund":    "billing",
		"/users/7/role":      "administration",
		"/roles":             "administration",
		"/admin/backups":     "administration",
		"/reports/daily":     "reports",
		"/unknown-surface/x": "unknown-surface",
		"/":                  "",
		"":                   "",
	}
	for path, want := range cases {
		require.Equal(t, want, DeriveModule(path), "path %q", path)
	}
}

func TestValidateModuleAccessWildcard(t *testing.T) {
	role := &Role{Slug: "nurse", ModuleAccess: []string{"*"}}
	res := ValidateModuleAccess(role, "/billing/invoices")
	require.True(t, res.Allowed)
	require.Equal(t, ModuleWildcardAccess, res.Reason)
}

func TestValidateModuleAccessPrivilegedSlug(t *testing.T) {
	role := &Role{Slug: "system-admin"}
	res := ValidateModuleAccess(role, "/pharmacy")
	require.True(t, res.Allowed)
	require.Equal(t, ModuleWildcardAccess, res.Reason)
}

func TestValidateModuleAccessMembership(t *testing.T) {
	role := &Role{Slug: "doctor", ModuleAccess: []string{"patients", "appointments"}}

	res := ValidateModuleAccess(role, "/patients/42")
	require.True(t, res.Allowed)
	require.Equal(t, "patients", res.Module)

	res = ValidateModuleAccess(role, "/pharmacy")
	require.False(t, res.Allowed)
	require.Equal(t, "pharmacy", res.Module)
}

func TestValidateModuleAccessWalletMapsToBilling(t *testing.T) {
	role := &Role{Slug: "cashier", ModuleAccess: []string{"billing"}}
	res := ValidateModuleAccess(role, "/wallet/topup")
	require.True(t, res.Allowed)
	require.Equal(t, "billing", res.Module)
}

func TestValidateModuleAccessNoModuleDetected(t *testing.T) {
	role := &Role{Slug: "doctor", ModuleAccess: []string{"patients"}}
	res := ValidateModuleAccess(role, "/")
	require.True(t, res.Allowed)
	require.Equal(t, ModuleNoModuleDetected, res.Reason)
}

func TestValidateModuleAccessUnknownSegmentNeedsMembership(t *testing.T) {
	role := &Role{Slug: "doctor", ModuleAccess: []string{"patients"}}
	res := ValidateModuleAccess(role, "/telemetry/feed")
	require.False(t, res.Allowed)
	require.Equal(t, "telemetry", res.Module)
}

func TestValidateModuleAccessNilRole(t *testing.T) {
	res := ValidateModuleAccess(nil, "/patients")
	require.False(t, res.Allowed)
}
