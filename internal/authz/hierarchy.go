package authz

import (
	"context"
	"errors"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// maxHierarchyDepth caps parent-chain walks so corrupted data cannot spin.
const maxHierarchyDepth = 32

// HierarchyResult is the outcome of validating a role's parent chain.
type HierarchyResult struct {
	Valid  bool
	Reason string
}

// ValidateHierarchy walks the parent chain of the given role. It fails when
// the role is missing, a parent does not exist, the chain revisits any role,
// or a parent's priority is not strictly greater than its child's.
func ValidateHierarchy(ctx context.Context, store RoleStore, role *Role) (HierarchyResult, error) {
	if role == nil {
		return HierarchyResult{Reason: HierarchyNoRole}, nil
	}
	if role.ParentRoleID == nil {
		return HierarchyResult{Valid: true}, nil
	}

	visited := map[int64]struct{}{role.ID: {}}
	child := role
	currentID := *role.ParentRoleID
	for depth := 0; depth < maxHierarchyDepth; depth++ {
		if _, seen := visited[currentID]; seen {
			return HierarchyResult{Reason: HierarchyCircular}, nil
		}
		parent, err := store.GetRole(ctx, currentID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return HierarchyResult{Reason: HierarchyInvalidParent}, nil
			}
			return HierarchyResult{}, err
		}
		if parent == nil {
			return HierarchyResult{Reason: HierarchyInvalidParent}, nil
		}
		if parent.Priority <= child.Priority {
			return HierarchyResult{Reason: HierarchyPriorityInvalid}, nil
		}
		visited[currentID] = struct{}{}
		if parent.ParentRoleID == nil {
			return HierarchyResult{Valid: true}, nil
		}
		child = parent
		currentID = *parent.ParentRoleID
	}
	return HierarchyResult{Reason: HierarchyCircular}, nil
}
