package roles

import "time"

// WildcardModule grants access to every module when present in ModuleAccess.
const WildcardModule = "*"

// Role represents a position in the role hierarchy together with the
// coarse-grained access attributes evaluated by the authorization pipeline.
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
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AllowsModule reports whether the role grants access to the named module.
func (r *Role) AllowsModule(module string) bool {
	if r == nil {
		return false
	}
	for _, m := range r.ModuleAccess {
		if m == WildcardModule || m == module {
			return true
		}
	}
	return false
}

// HasWildcardAccess reports whether the role carries the wildcard module token.
func (r *Role) HasWildcardAccess() bool {
	if r == nil {
		return false
	}
	for _, m := range r.ModuleAccess {
		if m == WildcardModule {
			return true
		}
	}
	return false
}

// CanAssign reports whether the role's assignable allow-list contains id.
func (r *Role) CanAssign(id int64) bool {
	if r == nil {
		return false
	}
	for _, allowed := range r.AssignableRoleIDs {
		if allowed == id {
			return true
		}
	}
	return false
}
