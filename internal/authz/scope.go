package authz

// ScopeResult is the outcome of the data-visibility scope check.
type ScopeResult struct {
	Allowed bool
	Reason  string
}

// ValidateDataScope checks the requested resource against the role's
// data_visibility_scope. It is a deliberate pass-through: the system this
// replaces never enforced scope filtering, and enforcement semantics must
// not be invented silently. The check stays in the pipeline so the order of
// reported reasons is stable once enforcement lands.
func ValidateDataScope(role *Role, path string) ScopeResult {
	return ScopeResult{Allowed: true}
}
