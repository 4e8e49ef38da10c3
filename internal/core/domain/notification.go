package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationPriority controls how prominently a notification is shown.
type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification is a message for one user about an escrow state change.
type Notification struct {
	ID        uuid.UUID            `json:"id" bson:"_id"`
	UserID    uuid.UUID            `json:"user_id" bson:"user_id"`
	Type      EventType            `json:"type" bson:"type"`
	Title     string               `json:"title" bson:"title"`
	Message   string               `json:"message" bson:"message"`
	Priority  NotificationPriority `json:"priority" bson:"priority"`
	EscrowID  *uuid.UUID           `json:"escrow_id,omitempty" bson:"escrow_id,omitempty"`
	Payload   map[string]any       `json:"payload,omitempty" bson:"payload,omitempty"`
	Read      bool                 `json:"read" bson:"read"`
	CreatedAt time.Time            `json:"created_at" bson:"created_at"`
}

var notificationTitles = map[EventType]string{
	EventEscrowCreated:   "Escrow Created",
	EventEscrowAccepted:  "Escrow Accepted",
	EventEscrowReleased:  "Credits Released",
	EventEscrowRefunded:  "Credits Refunded",
	EventEscrowDisputed:  "Dispute Opened",
	EventDisputeResolved: "Dispute Resolved",
}

// TitleFor returns the user-facing title for an event type.
func TitleFor(t EventType) string {
	if title, ok := notificationTitles[t]; ok {
		return title
	}
	return "Escrow Update"
}

// PriorityFor returns the default priority for an event type.
func PriorityFor(t EventType) NotificationPriority {
	switch t {
	case EventEscrowDisputed, EventDisputeResolved:
		return PriorityHigh
	}
	return PriorityNormal
}

// NotificationPayload is the event-specific content handed to the sink.
type NotificationPayload struct {
	EscrowID uuid.UUID
	Message  string
	Priority NotificationPriority // empty means PriorityFor(type)
	Data     map[string]any
}

// NewNotification builds the stored form of a notification for userID.
func NewNotification(userID uuid.UUID, t EventType, p NotificationPayload, now time.Time) *Notification {
	priority := p.Priority
	if priority == "" {
		priority = PriorityFor(t)
	}
	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      t,
		Title:     TitleFor(t),
		Message:   p.Message,
		Priority:  priority,
		Payload:   p.Data,
		CreatedAt: now,
	}
	if p.EscrowID != uuid.Nil {
		id := p.EscrowID
		n.EscrowID = &id
	}
	return n
}
