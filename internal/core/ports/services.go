package ports

import (
	"context"
	"time"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
)

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(actor domain.Actor) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Kind   domain.ActorKind
}

// Actor converts the claims into the ledger's caller identity.
func (c *TokenClaims) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, Kind: c.Kind}
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SchedulerLock keeps concurrent scheduler instances from scanning at the same time.
type SchedulerLock interface {
	// Acquire returns false without error when another holder owns the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// NotificationSink receives escrow state changes. Notify must not block on delivery
// and its failures never affect the escrow transition that triggered it.
type NotificationSink interface {
	Notify(ctx context.Context, userID uuid.UUID, eventType domain.EventType, payload domain.NotificationPayload)
}

// NotificationChannel is one delivery target behind the sink (inbox, event stream).
type NotificationChannel interface {
	Name() string
	Deliver(ctx context.Context, n *domain.Notification) error
}

// NotificationInbox reads a user's stored notifications.
type NotificationInbox interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error)
}

// --- Service Ports (Business Logic) ---

// EscrowLedger is the only writer of escrow records and the balances they hold.
type EscrowLedger interface {
	CreateEscrow(ctx context.Context, req CreateEscrowRequest) (*domain.EscrowRecord, error)
	Accept(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error)
	Release(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error)
	Refund(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error)
	OpenDispute(ctx context.Context, escrowID uuid.UUID, reason string, actor domain.Actor) (*domain.Dispute, error)
	Settle(ctx context.Context, req SettleRequest) (*domain.TransitionResult, error)
	GetStatus(ctx context.Context, escrowID uuid.UUID) (*domain.EscrowRecord, error)
	Timeline(ctx context.Context, escrowID uuid.UUID) (*domain.Timeline, error)
}

// CreateEscrowRequest holds validated input for escrow creation.
type CreateEscrowRequest struct {
	Actor          domain.Actor
	ClientID       uuid.UUID
	FreelancerID   uuid.UUID
	ServiceID      uuid.UUID
	Amount         int64
	Terms          string
	IdempotencyKey string
}

// SettleRequest moves a record into the terminal state chosen by Decision.
// RequireDisputed restricts the settlement to records currently under dispute.
type SettleRequest struct {
	EscrowID        uuid.UUID
	Decision        domain.Decision
	Actor           domain.Actor
	Note            string
	RequireDisputed bool
}

// DisputeResolver applies administrative decisions to disputed records.
type DisputeResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (*domain.TransitionResult, error)
	GetDispute(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.Dispute, error)
}

// ResolveRequest holds an admin's ruling on a dispute.
type ResolveRequest struct {
	EscrowID uuid.UUID
	Decision domain.Decision
	Note     string
	Actor    domain.Actor
}

// AccountService manages time-credit accounts.
type AccountService interface {
	Open(ctx context.Context, userID uuid.UUID, openingBalance int64) (*domain.Account, error)
	Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
}

// ReportingService backs the list and dashboard views.
type ReportingService interface {
	ListActiveEscrows(ctx context.Context, limit, offset int) ([]domain.EscrowRecord, error)
	ListPartyEscrows(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.EscrowRecord, error)
	GetStats(ctx context.Context) (*domain.EscrowStats, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
