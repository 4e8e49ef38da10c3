package postgres

import (
	"context"
	"errors"
	"fmt"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const disputeColumns = `id, escrow_id, initiator_id, respondent_id, reason, status,
		decision, resolution_note, resolved_by, created_at, resolved_at`

// DisputeRepo implements ports.DisputeRepository.
type DisputeRepo struct {
	pool Pool
}

// NewDisputeRepo creates a new DisputeRepo.
func NewDisputeRepo(pool Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

// Create inserts an open dispute.
func (r *DisputeRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.Dispute) error {
	query := `INSERT INTO disputes (` + disputeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		d.ID, d.EscrowID, d.InitiatorID, d.RespondentID, d.Reason, d.Status,
		d.Decision, d.ResolutionNote, d.ResolvedBy, d.CreatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

// GetOpenByEscrowIDForUpdate locks the open dispute of an escrow, if any.
func (r *DisputeRepo) GetOpenByEscrowIDForUpdate(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE escrow_id = $1 AND status = $2 FOR UPDATE`

	return scanDispute(tx.QueryRow(ctx, query, escrowID, domain.DisputeStatusOpen))
}

// GetLatestByEscrowID returns the most recent dispute of an escrow.
func (r *DisputeRepo) GetLatestByEscrowID(ctx context.Context, escrowID uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE escrow_id = $1 ORDER BY created_at DESC LIMIT 1`

	return scanDispute(r.pool.QueryRow(ctx, query, escrowID))
}

// Resolve writes the decision columns of a locked dispute.
func (r *DisputeRepo) Resolve(ctx context.Context, tx pgx.Tx, d *domain.Dispute) error {
	query := `UPDATE disputes SET status = $1, decision = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $6`

	tag, err := tx.Exec(ctx, query, d.Status, d.Decision, d.ResolutionNote, d.ResolvedBy, d.ResolvedAt, d.ID)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute not found: %s", d.ID)
	}
	return nil
}

func scanDispute(row pgx.Row) (*domain.Dispute, error) {
	d := &domain.Dispute{}
	err := row.Scan(
		&d.ID, &d.EscrowID, &d.InitiatorID, &d.RespondentID, &d.Reason, &d.Status,
		&d.Decision, &d.ResolutionNote, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	return d, nil
}
