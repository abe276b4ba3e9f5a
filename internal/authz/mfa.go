package authz

import (
	"net/http"
	"strings"
)

// privilegedPrefixes lists route prefixes that always require compliant MFA:
// role/permission mutation, backups, refunds/voids and patient deletion.
var privilegedPrefixes = []struct {
	method string
	prefix string
}{
	{http.MethodPost, "/roles"},
	{http.MethodPut, "/roles/"},
	{http.MethodDelete, "/roles/"},
	{http.MethodPost, "/users"},
	{http.MethodPost, "/users/"},
	{http.MethodPut, "/users/"},
	{http.MethodDelete, "/users/"},
	{http.MethodPost, "/admin/backups"},
	{http.MethodPost, "/billing/refund"},
	{http.MethodPost, "/billing/void"},
	{http.MethodDelete, "/patients/"},
}

// HighRiskFunc lets deployments flag additional requests as privileged.
type HighRiskFunc func(method, path string) bool

// IsPrivilegedOperation reports whether the request must pass the MFA gate.
func IsPrivilegedOperation(method, path string, highRisk HighRiskFunc) bool {
	for _, p := range privilegedPrefixes {
		if method != p.method {
			continue
		}
		if strings.HasSuffix(p.prefix, "/") {
			if strings.HasPrefix(path, p.prefix) {
				return true
			}
			continue
		}
		if path == p.prefix {
			return true
		}
	}
	if highRisk != nil {
		return highRisk(method, path)
	}
	return false
}
