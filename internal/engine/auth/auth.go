package auth

import (
	"fmt"

	"inspectline/internal/domain"
)

// ForbiddenError indicates the actor may not perform an operation.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// Actor is the caller of an engine operation. Over HTTP it comes from the
// bearer token; the CLI acts as a local operator.
type Actor struct {
	ID string
	// MaxTier caps the access tier of sessions the actor may start.
	MaxTier domain.AccessTier
	// Operator actors may open any session in the workspace.
	Operator bool
}

// Local is the actor used by the CLI against its own workspace.
func Local(id string) Actor {
	if id == "" {
		id = "local-user"
	}
	return Actor{ID: id, MaxTier: domain.TierEnterprise, Operator: true}
}

// CanUse checks that the actor's plan covers the requested access tier.
func (a Actor) CanUse(tier domain.AccessTier) error {
	if a.ID == "" {
		return ForbiddenError{Reason: "actor required"}
	}
	plan := a.MaxTier
	if plan == "" {
		plan = domain.TierFree
	}
	if !plan.Valid() {
		return ForbiddenError{Reason: fmt.Sprintf("unknown plan tier %q", plan)}
	}
	if !plan.Allows(tier) {
		return ForbiddenError{Reason: fmt.Sprintf("access tier %s exceeds plan tier %s", tier, plan)}
	}
	return nil
}

// CanAccess checks that the actor owns the session.
func (a Actor) CanAccess(rec domain.SessionRecord) error {
	if a.Operator || (a.ID != "" && a.ID == rec.UserID) {
		return nil
	}
	return ForbiddenError{Reason: fmt.Sprintf("session %s belongs to another user", rec.SessionID)}
}
