package domain

import (
	"time"

	"github.com/google/uuid"
)

// Decision is an administrative settlement of a disputed record.
type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionRefund  Decision = "refund"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionRelease || d == DecisionRefund
}

// DisputeStatus tracks whether an admin has ruled on the dispute.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// Dispute is the audit record of a dispute opened against an escrow.
type Dispute struct {
	ID             uuid.UUID     `json:"id"`
	EscrowID       uuid.UUID     `json:"escrow_id"`
	InitiatorID    uuid.UUID     `json:"initiator_id"`
	RespondentID   uuid.UUID     `json:"respondent_id"`
	Reason         string        `json:"reason"`
	Status         DisputeStatus `json:"status"`
	Decision       *Decision     `json:"decision,omitempty"`
	ResolutionNote *string       `json:"resolution_note,omitempty"`
	ResolvedBy     *uuid.UUID    `json:"resolved_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// NewDispute opens a dispute on e by initiator.
func NewDispute(e *EscrowRecord, initiator uuid.UUID, reason string, now time.Time) *Dispute {
	return &Dispute{
		ID:           uuid.New(),
		EscrowID:     e.ID,
		InitiatorID:  initiator,
		RespondentID: e.Counterparty(initiator),
		Reason:       reason,
		Status:       DisputeStatusOpen,
		CreatedAt:    now,
	}
}

// Resolve closes the dispute. A nil resolver means the system closed it.
func (d *Dispute) Resolve(decision Decision, note string, resolver *uuid.UUID, now time.Time) {
	d.Status = DisputeStatusResolved
	d.Decision = &decision
	d.ResolutionNote = &note
	d.ResolvedBy = resolver
	d.ResolvedAt = &now
}

// IsOpen reports whether the dispute still awaits a decision.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen
}
