package authz

import (
	"context"
	"errors"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// EscalationTarget names the user and/or role a request acts on. Zero values
// mean the request references no target.
type EscalationTarget struct {
	UserID int64
	RoleID int64
}

// EscalationResult is the outcome of the escalation prevention check.
type EscalationResult struct {
	Allowed      bool
	Reason       string
	TargetUserID int64
}

// PreventEscalation blocks an actor from granting, or acting on, a role at or
// above their own priority unless a valid escalation path exists: the actor's
// role is the target role's direct parent, or the target role id is on the
// actor role's assignable allow-list.
func PreventEscalation(ctx context.Context, store RoleStore, p *Principal, actorRole *Role, target EscalationTarget) (EscalationResult, error) {
	if target.RoleID == 0 && target.UserID == 0 {
		return EscalationResult{Allowed: true}, nil
	}
	if p != nil && p.SuperAdmin {
		return EscalationResult{Allowed: true, TargetUserID: target.UserID}, nil
	}
	if target.RoleID == 0 {
		return EscalationResult{Allowed: true, TargetUserID: target.UserID}, nil
	}
	if actorRole == nil {
		return EscalationResult{Allowed: false, Reason: string(ReasonEscalationBlocked), TargetUserID: target.UserID}, nil
	}

	targetRole, err := store.GetRole(ctx, target.RoleID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// An unknown target role is a deny, not an internal fault.
			return EscalationResult{Allowed: false, Reason: string(ReasonEscalationBlocked), TargetUserID: target.UserID}, nil
		}
		return EscalationResult{}, err
	}
	if targetRole.Priority < actorRole.Priority {
		return EscalationResult{Allowed: true, TargetUserID: target.UserID}, nil
	}
	if targetRole.ParentRoleID != nil && *targetRole.ParentRoleID == actorRole.ID {
		return EscalationResult{Allowed: true, TargetUserID: target.UserID}, nil
	}
	if actorAllowsAssign(actorRole, targetRole.ID) {
		return EscalationResult{Allowed: true, TargetUserID: target.UserID}, nil
	}
	return EscalationResult{Allowed: false, Reason: string(ReasonEscalationBlocked), TargetUserID: target.UserID}, nil
}

func actorAllowsAssign(role *Role, targetRoleID int64) bool {
	for _, id := range role.AssignableRoleIDs {
		if id == targetRoleID {
			return true
		}
	}
	return false
}
