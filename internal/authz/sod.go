package authz

import (
	"context"
	"net/http"
	"strings"
)

// criticalPrefixes lists routes subject to segregation-of-duties checks.
var criticalPrefixes = []struct {
	method string
	prefix string
}{
	{http.MethodPost, "/billing/refund"},
	{http.MethodPost, "/billing/void"},
	{http.MethodPost, "/roles"},
	{http.MethodPut, "/roles/"},
	{http.MethodPut, "/users/"},
	{http.MethodPost, "/users/"},
}

// IsCriticalOperation reports whether the request falls under SoD review.
func IsCriticalOperation(method, path string) bool {
	for _, p := range criticalPrefixes {
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
	return false
}

// conflictPairs are permission combinations one actor must not hold when
// executing a critical operation: the requesting and approving sides of the
// same class of change.
var conflictPairs = [][2]string{
	{"billing.refund", "billing.refund-approve"},
	{"billing.void", "billing.void-approve"},
	{"roles.edit", "roles.approve"},
	{"pharmacy.sell", "pharmacy.stock-adjust"},
}

// PairwiseSoDChecker flags actors holding both sides of a conflicting
// permission pair.
type PairwiseSoDChecker struct{}

// Violations returns a description per conflicting pair held.
func (PairwiseSoDChecker) Violations(ctx context.Context, p *Principal, granted map[string]struct{}) ([]string, error) {
	var found []string
	for _, pair := range conflictPairs {
		if _, a := granted[pair[0]]; !a {
			continue
		}
		if _, b := granted[pair[1]]; !b {
			continue
		}
		found = append(found, pair[0]+" conflicts with "+pair[1])
	}
	return found, nil
}
