package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHoldWindow is how long a held escrow waits before auto-release.
const DefaultHoldWindow = 72 * time.Hour

// EscrowStatus is the lifecycle state of an escrow record.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusDisputed EscrowStatus = "disputed"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// transitions lists every legal status change. Terminal states have no entry.
var transitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusHeld:     {EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusDisputed},
	EscrowStatusDisputed: {EscrowStatusReleased, EscrowStatusRefunded},
}

// IsTerminal returns true once funds have left escrow.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// IsOpen returns true while credits are held for the record.
func (s EscrowStatus) IsOpen() bool {
	return s == EscrowStatusHeld || s == EscrowStatusDisputed
}

// Valid reports whether s is a known status.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowStatusHeld, EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s EscrowStatus) CanTransitionTo(next EscrowStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EscrowRecord is one held transfer of time-credits from a client to a freelancer.
// ID, parties, Amount, Terms, CreatedAt and AutoReleaseAt never change after creation.
type EscrowRecord struct {
	ID            uuid.UUID    `json:"id"`
	ClientID      uuid.UUID    `json:"client_id"`
	FreelancerID  uuid.UUID    `json:"freelancer_id"`
	ServiceID     uuid.UUID    `json:"service_id"`
	Amount        int64        `json:"amount"`
	Terms         string       `json:"terms"`
	Status        EscrowStatus `json:"status"`
	DisputeReason *string      `json:"dispute_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	AutoReleaseAt time.Time    `json:"auto_release_at"`
	AcceptedAt    *time.Time   `json:"accepted_at,omitempty"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewEscrowRecord builds a held record whose auto-release deadline is now + holdWindow.
func NewEscrowRecord(clientID, freelancerID, serviceID uuid.UUID, amount int64, terms string, now time.Time, holdWindow time.Duration) *EscrowRecord {
	if holdWindow <= 0 {
		holdWindow = DefaultHoldWindow
	}
	return &EscrowRecord{
		ID:            uuid.New(),
		ClientID:      clientID,
		FreelancerID:  freelancerID,
		ServiceID:     serviceID,
		Amount:        amount,
		Terms:         terms,
		Status:        EscrowStatusHeld,
		CreatedAt:     now,
		AutoReleaseAt: now.Add(holdWindow),
		UpdatedAt:     now,
	}
}

// IsTerminal returns true if the record is released or refunded.
func (e *EscrowRecord) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// IsDueForRelease reports whether the scheduler may release the record at now.
func (e *EscrowRecord) IsDueForRelease(now time.Time) bool {
	return e.Status == EscrowStatusHeld && !now.Before(e.AutoReleaseAt)
}

// RoleOf resolves how actor relates to this record.
func (e *EscrowRecord) RoleOf(actor Actor) Role {
	switch {
	case actor.Kind == ActorSystem:
		return RoleSystem
	case actor.Kind == ActorAdmin:
		return RoleAdmin
	case actor.UserID == e.ClientID:
		return RoleClient
	case actor.UserID == e.FreelancerID:
		return RoleFreelancer
	}
	return RoleNone
}

// IsParty reports whether userID is the client or the freelancer.
func (e *EscrowRecord) IsParty(userID uuid.UUID) bool {
	return userID == e.ClientID || userID == e.FreelancerID
}

// Counterparty returns the other party of the record.
func (e *EscrowRecord) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == e.ClientID {
		return e.FreelancerID
	}
	return e.ClientID
}

// TerminalStatusFor maps a settlement decision to the status it produces.
func TerminalStatusFor(d Decision) EscrowStatus {
	if d == DecisionRefund {
		return EscrowStatusRefunded
	}
	return EscrowStatusReleased
}

// Beneficiary returns the account credited by decision d.
func (e *EscrowRecord) Beneficiary(d Decision) uuid.UUID {
	if d == DecisionRefund {
		return e.ClientID
	}
	return e.FreelancerID
}

// TransitionResult is the outcome of a settle or accept call. Applied is false when the
// record was already in the requested state and nothing changed.
type TransitionResult struct {
	Record  *EscrowRecord `json:"record"`
	Applied bool          `json:"applied"`
}
