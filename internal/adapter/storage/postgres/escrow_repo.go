package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const escrowColumns = `id, client_id, freelancer_id, service_id, amount, terms, status,
		dispute_reason, created_at, auto_release_at, accepted_at, resolved_at, updated_at`

// EscrowRepo implements ports.EscrowRepository.
type EscrowRepo struct {
	pool Pool
}

// NewEscrowRepo creates a new EscrowRepo.
func NewEscrowRepo(pool Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Create inserts a new escrow record within a database transaction.
func (r *EscrowRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	query := `INSERT INTO escrows (` + escrowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.ClientID, e.FreelancerID, e.ServiceID,
		e.Amount, e.Terms, e.Status, e.DisputeReason,
		e.CreatedAt, e.AutoReleaseAt, e.AcceptedAt, e.ResolvedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// GetByID fetches an escrow record (without locking).
func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EscrowRecord, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1`

	return scanEscrow(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an escrow record with pessimistic locking.
// This MUST be called within a transaction.
func (r *EscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.EscrowRecord, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1 FOR UPDATE`

	return scanEscrow(tx.QueryRow(ctx, query, id))
}

// UpdateState writes the mutable columns of a locked record.
func (r *EscrowRepo) UpdateState(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	query := `UPDATE escrows SET status = $1, dispute_reason = $2, accepted_at = $3, resolved_at = $4, updated_at = $5
		WHERE id = $6`

	tag, err := tx.Exec(ctx, query, e.Status, e.DisputeReason, e.AcceptedAt, e.ResolvedAt, e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update escrow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow not found: %s", e.ID)
	}
	return nil
}

// ListDueForRelease returns ids of held records whose hold window has elapsed, oldest deadline first.
func (r *EscrowRepo) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM escrows WHERE status = $1 AND auto_release_at <= $2
		ORDER BY auto_release_at ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, domain.EscrowStatusHeld, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due escrows: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due escrow id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due escrows: %w", err)
	}
	return ids, nil
}

// List fetches escrows with filtering and pagination, newest first.
func (r *EscrowRepo) List(ctx context.Context, params ports.EscrowListParams) ([]domain.EscrowRecord, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if len(params.Statuses) > 0 {
		statuses := make([]string, len(params.Statuses))
		for i, s := range params.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, statuses)
		argIdx++
	}
	if params.PartyID != nil {
		conditions = append(conditions, fmt.Sprintf("(client_id = $%d OR freelancer_id = $%d)", argIdx, argIdx))
		args = append(args, *params.PartyID)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM escrows %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		escrowColumns, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	defer rows.Close()

	escrows := []domain.EscrowRecord{}
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}
	return escrows, nil
}

// Stats aggregates open escrows and open disputes for the admin dashboard.
func (r *EscrowRepo) Stats(ctx context.Context) (*domain.EscrowStats, error) {
	query := `SELECT
		COUNT(*) FILTER (WHERE status IN ('held', 'disputed')) AS active,
		COUNT(*) FILTER (WHERE status = 'held') AS held,
		COUNT(*) FILTER (WHERE status = 'disputed') AS disputed,
		COALESCE(SUM(amount) FILTER (WHERE status IN ('held', 'disputed')), 0) AS in_flight,
		(SELECT COUNT(*) FROM disputes WHERE status = 'open') AS disputes_open
		FROM escrows`

	stats := &domain.EscrowStats{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.ActiveEscrows, &stats.HeldEscrows, &stats.DisputedEscrows,
		&stats.CreditsInFlight, &stats.DisputesOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("get escrow stats: %w", err)
	}
	return stats, nil
}

// scanEscrow scans a single row into an EscrowRecord.
func scanEscrow(row pgx.Row) (*domain.EscrowRecord, error) {
	e := &domain.EscrowRecord{}
	err := row.Scan(
		&e.ID, &e.ClientID, &e.FreelancerID, &e.ServiceID,
		&e.Amount, &e.Terms, &e.Status, &e.DisputeReason,
		&e.CreatedAt, &e.AutoReleaseAt, &e.AcceptedAt, &e.ResolvedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan escrow: %w", err)
	}
	return e, nil
}
