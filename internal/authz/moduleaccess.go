package authz

import "strings"

// privilegedRoleSlugs bypass module checks entirely.
var privilegedRoleSlugs = map[string]struct{}{
	"super-admin":   {},
	"system-admin":  {},
	"administrator": {},
}

// moduleByPathSegment maps the first URL path segment to a module name.
// Unknown segments pass through unchanged and then fail membership unless
// the role carries the wildcard token.
var moduleByPathSegment = map[string]string{
	"patients":     "patients",
	"appointments": "appointments",
	"pharmacy":     "pharmacy",
	"laboratory":   "laboratory",
	"billing":      "billing",
	"wallet":       "billing",
	"admin":        "administration",
	"users":        "administration",
	"roles":        "administration",
	"permissions":  "administration",
	"reports":      "reports",
}

// ModuleResult is the outcome of the module access check.
type ModuleResult struct {
	Allowed bool
	Module  string
	Reason  string
}

// DeriveModule resolves the module a request path belongs to. Empty string
// means no module could be derived.
func DeriveModule(path string) string {
	segment := firstSegment(path)
	if segment == "" {
		return ""
	}
	if module, ok := moduleByPathSegment[segment]; ok {
		return module
	}
	return segment
}

// ValidateModuleAccess checks the role's module set against the module
// derived from the request path. Requests with no derivable module are
// allowed; that open default is inherited behavior.
func ValidateModuleAccess(role *Role, path string) ModuleResult {
	if role != nil {
		if _, ok := privilegedRoleSlugs[role.Slug]; ok {
			return ModuleResult{Allowed: true, Reason: ModuleWildcardAccess}
		}
		if role.hasWildcard() {
			return ModuleResult{Allowed: true, Reason: ModuleWildcardAccess}
		}
	}
	module := DeriveModule(path)
	if module == "" {
		return ModuleResult{Allowed: true, Reason: ModuleNoModuleDetected}
	}
	if role != nil {
		for _, m := range role.ModuleAccess {
			if m == module {
				return ModuleResult{Allowed: true, Module: module, Reason: ModuleAllowed}
			}
		}
	}
	return ModuleResult{Allowed: false, Module: module, Reason: string(ReasonModuleAccessDenied)}
}

func (r *Role) hasWildcard() bool {
	for _, m := range r.ModuleAccess {
		if m == "*" {
			return true
		}
	}
	return false
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ""
	}
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	return strings.ToLower(path)
}
