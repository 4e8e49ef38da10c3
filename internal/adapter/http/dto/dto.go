package dto

import (
	"time"

	"timebank-escrow/internal/core/domain"
)

// CreateEscrowRequest is the request body for holding credits for a service.
// Amount is in hundredths of an hour.
type CreateEscrowRequest struct {
	FreelancerID string `json:"freelancer_id" binding:"required,uuid"`
	ServiceID    string `json:"service_id" binding:"required,uuid"`
	Amount       int64  `json:"amount" binding:"required,gt=0"`
	Terms        string `json:"terms" binding:"max=2000"`
}

// IdempotencyHeader carries the optional replay key of a create request.
type IdempotencyHeader struct {
	Key string `header:"Idempotency-Key" binding:"omitempty,max=100,safe_id"`
}

// OpenDisputeRequest is the request body for disputing a held escrow.
type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

// ResolveDisputeRequest is an administrator's ruling.
type ResolveDisputeRequest struct {
	Decision       string `json:"decision" binding:"required,oneof=release refund"`
	ResolutionNote string `json:"resolution_note" binding:"required,max=2000"`
}

// OpenAccountRequest provisions a credit account.
type OpenAccountRequest struct {
	UserID         string `json:"user_id" binding:"required,uuid"`
	OpeningBalance int64  `json:"opening_balance" binding:"gte=0"`
}

// EscrowResponse is the public view of an escrow record.
type EscrowResponse struct {
	ID            string  `json:"id"`
	ClientID      string  `json:"client_id"`
	FreelancerID  string  `json:"freelancer_id"`
	ServiceID     string  `json:"service_id"`
	Amount        int64   `json:"amount"`
	Terms         string  `json:"terms"`
	Status        string  `json:"status"`
	DisputeReason *string `json:"dispute_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	AutoReleaseAt string  `json:"auto_release_at"`
	AcceptedAt    *string `json:"accepted_at,omitempty"`
	ResolvedAt    *string `json:"resolved_at,omitempty"`
}

// TransitionResponse reports a settle or accept call. Applied is false when the
// record was already in the requested state.
type TransitionResponse struct {
	Escrow  EscrowResponse `json:"escrow"`
	Applied bool           `json:"applied"`
}

// EventResponse is one timeline entry.
type EventResponse struct {
	Type       string  `json:"type"`
	FromStatus *string `json:"from_status,omitempty"`
	ToStatus   string  `json:"to_status"`
	ActorID    *string `json:"actor_id,omitempty"`
	ActorRole  string  `json:"actor_role"`
	Note       string  `json:"note,omitempty"`
	At         string  `json:"at"`
}

// TimelineResponse backs the escrow progress view.
type TimelineResponse struct {
	Escrow               EscrowResponse  `json:"escrow"`
	Events               []EventResponse `json:"events"`
	AutoReleaseInSeconds *int64          `json:"auto_release_in_seconds,omitempty"`
}

// DisputeResponse is the public view of a dispute.
type DisputeResponse struct {
	ID             string  `json:"id"`
	EscrowID       string  `json:"escrow_id"`
	InitiatorID    string  `json:"initiator_id"`
	RespondentID   string  `json:"respondent_id"`
	Reason         string  `json:"reason"`
	Status         string  `json:"status"`
	Decision       *string `json:"decision,omitempty"`
	ResolutionNote *string `json:"resolution_note,omitempty"`
	ResolvedBy     *string `json:"resolved_by,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
}

// AccountResponse is the response for balance query.
type AccountResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// StatsResponse is the response for the admin dashboard.
type StatsResponse struct {
	ActiveEscrows     int64 `json:"active_escrows"`
	HeldEscrows       int64 `json:"held_escrows"`
	DisputedEscrows   int64 `json:"disputed_escrows"`
	DisputesOpen      int64 `json:"disputes_open"`
	CreditsInFlight   int64 `json:"credits_in_flight"`
	CreditsInAccounts int64 `json:"credits_in_accounts"`
}

// NotificationResponse is one inbox entry.
type NotificationResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Priority  string  `json:"priority"`
	EscrowID  *string `json:"escrow_id,omitempty"`
	Read      bool    `json:"read"`
	CreatedAt string  `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// FromEscrow converts a domain record.
func FromEscrow(e *domain.EscrowRecord) EscrowResponse {
	return EscrowResponse{
		ID:            e.ID.String(),
		ClientID:      e.ClientID.String(),
		FreelancerID:  e.FreelancerID.String(),
		ServiceID:     e.ServiceID.String(),
		Amount:        e.Amount,
		Terms:         e.Terms,
		Status:        string(e.Status),
		DisputeReason: e.DisputeReason,
		CreatedAt:     formatTime(e.CreatedAt),
		AutoReleaseAt: formatTime(e.AutoReleaseAt),
		AcceptedAt:    formatTimePtr(e.AcceptedAt),
		ResolvedAt:    formatTimePtr(e.ResolvedAt),
	}
}

// FromEscrows converts a page of records.
func FromEscrows(records []domain.EscrowRecord) []EscrowResponse {
	out := make([]EscrowResponse, 0, len(records))
	for i := range records {
		out = append(out, FromEscrow(&records[i]))
	}
	return out
}

// FromTransition converts a ledger transition result.
func FromTransition(r *domain.TransitionResult) TransitionResponse {
	return TransitionResponse{Escrow: FromEscrow(r.Record), Applied: r.Applied}
}

// FromTimeline converts the timeline read model.
func FromTimeline(t *domain.Timeline) TimelineResponse {
	resp := TimelineResponse{
		Escrow: FromEscrow(t.Escrow),
		Events: make([]EventResponse, 0, len(t.Events)),
	}
	for _, ev := range t.Events {
		item := EventResponse{
			Type:      string(ev.Type),
			ToStatus:  string(ev.ToStatus),
			ActorRole: string(ev.ActorRole),
			Note:      ev.Note,
			At:        formatTime(ev.CreatedAt),
		}
		if ev.FromStatus != nil {
			s := string(*ev.FromStatus)
			item.FromStatus = &s
		}
		if ev.ActorID != nil {
			s := ev.ActorID.String()
			item.ActorID = &s
		}
		resp.Events = append(resp.Events, item)
	}
	if t.AutoReleaseIn != nil {
		secs := t.AutoReleaseIn.Seconds
		resp.AutoReleaseInSeconds = &secs
	}
	return resp
}

// FromDispute converts a dispute record.
func FromDispute(d *domain.Dispute) DisputeResponse {
	resp := DisputeResponse{
		ID:             d.ID.String(),
		EscrowID:       d.EscrowID.String(),
		InitiatorID:    d.InitiatorID.String(),
		RespondentID:   d.RespondentID.String(),
		Reason:         d.Reason,
		Status:         string(d.Status),
		ResolutionNote: d.ResolutionNote,
		CreatedAt:      formatTime(d.CreatedAt),
		ResolvedAt:     formatTimePtr(d.ResolvedAt),
	}
	if d.Decision != nil {
		s := string(*d.Decision)
		resp.Decision = &s
	}
	if d.ResolvedBy != nil {
		s := d.ResolvedBy.String()
		resp.ResolvedBy = &s
	}
	return resp
}

// FromNotifications converts inbox entries.
func FromNotifications(items []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		item := NotificationResponse{
			ID:        n.ID.String(),
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Priority:  string(n.Priority),
			Read:      n.Read,
			CreatedAt: formatTime(n.CreatedAt),
		}
		if n.EscrowID != nil {
			s := n.EscrowID.String()
			item.EscrowID = &s
		}
		out = append(out, item)
	}
	return out
}
