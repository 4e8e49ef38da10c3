package service

import (
	"fmt"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/pkg/apperror"
)

// settlePolicy decides whether an actor may move a record into a terminal state.
// authorize runs first and only looks at who is asking; admit only runs for
// records that are still open.
type settlePolicy struct {
	operation       string
	decision        domain.Decision
	requireDisputed bool
	authorize       func(role domain.Role) error
	admit           func(e *domain.EscrowRecord, role domain.Role, now time.Time) error
}

var releasePolicy = settlePolicy{
	operation: "release",
	decision:  domain.DecisionRelease,
	authorize: func(role domain.Role) error {
		switch role {
		case domain.RoleClient, domain.RoleAdmin, domain.RoleSystem:
			return nil
		case domain.RoleFreelancer:
			return apperror.ErrUnauthorized("freelancer cannot release own escrow")
		}
		return apperror.ErrUnauthorized("not a party to this escrow")
	},
	admit: func(e *domain.EscrowRecord, role domain.Role, now time.Time) error {
		if e.Status == domain.EscrowStatusDisputed {
			return apperror.ErrInvalidTransition("escrow is under dispute; it can only be settled by resolving the dispute")
		}
		if role == domain.RoleSystem && !e.IsDueForRelease(now) {
			return apperror.ErrInvalidTransition("escrow is not due for auto-release")
		}
		return nil
	},
}

var refundPolicy = settlePolicy{
	operation: "refund",
	decision:  domain.DecisionRefund,
	authorize: func(role domain.Role) error {
		switch role {
		case domain.RoleClient, domain.RoleAdmin:
			return nil
		case domain.RoleFreelancer, domain.RoleSystem:
			return apperror.ErrUnauthorized(fmt.Sprintf("%s cannot refund an escrow", role))
		}
		return apperror.ErrUnauthorized("not a party to this escrow")
	},
	admit: func(e *domain.EscrowRecord, role domain.Role, _ time.Time) error {
		if e.Status == domain.EscrowStatusDisputed {
			return apperror.ErrInvalidTransition("escrow is under dispute; it can only be settled by resolving the dispute")
		}
		if role == domain.RoleAdmin {
			return nil
		}
		if e.AcceptedAt != nil {
			return apperror.ErrInvalidTransition("escrow was accepted by the freelancer; open a dispute instead")
		}
		return nil
	},
}

// adminSettlePolicy is used by dispute resolution. It is the only policy that
// moves a record out of Disputed.
func adminSettlePolicy(decision domain.Decision, requireDisputed bool) settlePolicy {
	return settlePolicy{
		operation:       "settle_" + string(decision),
		decision:        decision,
		requireDisputed: requireDisputed,
		authorize: func(role domain.Role) error {
			if role != domain.RoleAdmin {
				return apperror.ErrUnauthorized("only an administrator can settle an escrow")
			}
			return nil
		},
		admit: func(e *domain.EscrowRecord, _ domain.Role, _ time.Time) error {
			if requireDisputed && e.Status != domain.EscrowStatusDisputed {
				return apperror.ErrInvalidTransition(fmt.Sprintf("escrow is %s, not disputed", e.Status))
			}
			return nil
		},
	}
}

// check applies the policy. noop is true when the record already sits in the
// policy's terminal state; that outcome is a success, not an error.
func (p settlePolicy) check(e *domain.EscrowRecord, actor domain.Actor, now time.Time) (noop bool, err error) {
	role := e.RoleOf(actor)
	if err := p.authorize(role); err != nil {
		return false, err
	}

	target := domain.TerminalStatusFor(p.decision)
	if e.IsTerminal() {
		// A repeat resolution is a no-op only for records that were actually disputed.
		if p.requireDisputed && e.DisputeReason == nil {
			return false, apperror.ErrInvalidTransition(fmt.Sprintf("escrow is %s and was never disputed", e.Status))
		}
		if e.Status == target {
			return true, nil
		}
		return false, apperror.ErrInvalidTransition(fmt.Sprintf("escrow already %s", e.Status))
	}
	if !e.Status.CanTransitionTo(target) {
		return false, apperror.ErrInvalidTransition(fmt.Sprintf("cannot move escrow from %s to %s", e.Status, target))
	}
	return false, p.admit(e, role, now)
}
