package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a state change on an escrow record. The same names are used for
// notifications.
type EventType string

const (
	EventEscrowCreated   EventType = "escrow.created"
	EventEscrowAccepted  EventType = "escrow.accepted"
	EventEscrowReleased  EventType = "escrow.released"
	EventEscrowRefunded  EventType = "escrow.refunded"
	EventEscrowDisputed  EventType = "escrow.disputed"
	EventDisputeResolved EventType = "dispute.resolved"
)

// EscrowEvent is one entry of a record's timeline, written in the same transaction as
// the change it describes.
type EscrowEvent struct {
	ID         uuid.UUID     `json:"id"`
	EscrowID   uuid.UUID     `json:"escrow_id"`
	Type       EventType     `json:"type"`
	FromStatus *EscrowStatus `json:"from_status,omitempty"`
	ToStatus   EscrowStatus  `json:"to_status"`
	ActorID    *uuid.UUID    `json:"actor_id,omitempty"`
	ActorRole  Role          `json:"actor_role"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewEscrowEvent records a transition of e from "from" to its current status.
func NewEscrowEvent(e *EscrowRecord, typ EventType, from *EscrowStatus, actor Actor, role Role, note string, at time.Time) *EscrowEvent {
	return &EscrowEvent{
		ID:         uuid.New(),
		EscrowID:   e.ID,
		Type:       typ,
		FromStatus: from,
		ToStatus:   e.Status,
		ActorID:    actor.ID(),
		ActorRole:  role,
		Note:       note,
		CreatedAt:  at,
	}
}

// Timeline is the read model behind the escrow progress view.
type Timeline struct {
	Escrow        *EscrowRecord `json:"escrow"`
	Events        []EscrowEvent `json:"events"`
	AutoReleaseIn *Duration     `json:"auto_release_in,omitempty"`
}

// Duration marshals as whole seconds.
type Duration struct {
	Seconds int64 `json:"seconds"`
}

// BuildTimeline assembles a timeline; the countdown is only present while the record is held.
func BuildTimeline(e *EscrowRecord, events []EscrowEvent, now time.Time) *Timeline {
	t := &Timeline{Escrow: e, Events: events}
	if t.Events == nil {
		t.Events = []EscrowEvent{}
	}
	if e.Status == EscrowStatusHeld {
		remaining := e.AutoReleaseAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		t.AutoReleaseIn = &Duration{Seconds: int64(remaining / time.Second)}
	}
	return t
}
