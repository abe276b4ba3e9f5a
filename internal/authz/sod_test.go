package authz

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCriticalOperation(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/billing/refund", true},
		{http.MethodPost, "/billing/void", true},
		{http.MethodPost, "/roles", true},
		{http.MethodPut, "/roles/3", true},
		{http.MethodPost, "/users/5/role", true},
		{http.MethodGet, "/billing/refund", false},
		{http.MethodGet, "/roles", false},
		{http.MethodPost, "/patients", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, IsCriticalOperation(c.method, c.path), "%s %s", c.method, c.path)
	}
}

func TestPairwiseSoDCheckerFindsConflicts(t *testing.T) {
	granted := map[string]struct{}{
		"billing.refund":         {},
		"billing.refund-approve": {},
		"patients.view":          {},
	}
	violations, err := PairwiseSoDChecker{}.Violations(context.Background(), &Principal{UserID: 7}, granted)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Contains(t, violations[0], "billing.refund")
}

func TestPairwiseSoDCheckerOneSideIsFine(t *testing.T) {
	granted := map[string]struct{}{
		"billing.refund": {},
		"roles.edit":     {},
	}
	violations, err := PairwiseSoDChecker{}.Violations(context.Background(), &Principal{UserID: 7}, granted)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestIsPrivilegedOperation(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/roles", true},
		{http.MethodDelete, "/roles/9", true},
		{http.MethodPost, "/users", true},
		{http.MethodPost, "/users/5/role", true},
		{http.MethodPost, "/admin/backups", true},
		{http.MethodDelete, "/patients/42", true},
		{http.MethodGet, "/roles", false},
		{http.MethodGet, "/patients/42", false},
		{http.MethodPost, "/appointments", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, IsPrivilegedOperation(c.method, c.path, nil), "%s %s", c.method, c.path)
	}
}

func TestIsPrivilegedOperationHighRiskExtension(t *testing.T) {
	highRisk := func(method, path string) bool {
		return path == "/laboratory/results/release"
	}
	require.True(t, IsPrivilegedOperation(http.MethodPost, "/laboratory/results/release", highRisk))
	require.False(t, IsPrivilegedOperation(http.MethodPost, "/laboratory/orders", highRisk))
}
