package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateEscrow   AuditAction = "CREATE_ESCROW"
	AuditActionAcceptEscrow   AuditAction = "ACCEPT_ESCROW"
	AuditActionReleaseEscrow  AuditAction = "RELEASE_ESCROW"
	AuditActionRefundEscrow   AuditAction = "REFUND_ESCROW"
	AuditActionOpenDispute    AuditAction = "OPEN_DISPUTE"
	AuditActionResolveDispute AuditAction = "RESOLVE_DISPUTE"
	AuditActionCreateAccount  AuditAction = "CREATE_ACCOUNT"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	UserAgent    string      `json:"user_agent,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
