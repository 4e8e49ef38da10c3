package ports

import (
	"context"
	"time"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

// AccountRepository is the BalanceStore. Debit and Credit run on the caller's
// transaction so they commit or roll back together with the escrow write.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Account, error)
	// Debit returns domain.ErrInsufficientBalance when the balance cannot cover amount.
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	TotalBalance(ctx context.Context) (int64, error)
}

// EscrowRepository persists escrow records. Methods accepting pgx.Tx are used
// inside transaction blocks for pessimistic locking.
type EscrowRepository interface {
	Create(ctx context.Context, tx pgx.Tx, escrow *domain.EscrowRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.EscrowRecord, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.EscrowRecord, error)
	// UpdateState writes the mutable columns: status, dispute_reason, accepted_at, resolved_at.
	UpdateState(ctx context.Context, tx pgx.Tx, escrow *domain.EscrowRecord) error
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	List(ctx context.Context, params EscrowListParams) ([]domain.EscrowRecord, error)
	Stats(ctx context.Context) (*domain.EscrowStats, error)
}

// EscrowListParams holds filter + pagination for listing escrows. Results are newest first.
type EscrowListParams struct {
	Statuses []domain.EscrowStatus
	PartyID  *uuid.UUID
	Limit    int
	Offset   int
}

// EscrowEventRepository stores the timeline of each record.
type EscrowEventRepository interface {
	Append(ctx context.Context, tx pgx.Tx, event *domain.EscrowEvent) error
	ListByEscrowID(ctx context.Context, escrowID uuid.UUID) ([]domain.EscrowEvent, error)
}

// DisputeRepository stores dispute records.
type DisputeRepository interface {
	Create(ctx context.Context, tx pgx.Tx, dispute *domain.Dispute) error
	GetOpenByEscrowIDForUpdate(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) (*domain.Dispute, error)
	GetLatestByEscrowID(ctx context.Context, escrowID uuid.UUID) (*domain.Dispute, error)
	Resolve(ctx context.Context, tx pgx.Tx, dispute *domain.Dispute) error
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
