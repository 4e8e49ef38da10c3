package postgres

import (
	"context"
	"fmt"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventRepo implements ports.EscrowEventRepository.
type EventRepo struct {
	pool Pool
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(pool Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Append inserts a timeline event in the transaction of the change it records.
func (r *EventRepo) Append(ctx context.Context, tx pgx.Tx, ev *domain.EscrowEvent) error {
	query := `INSERT INTO escrow_events (id, escrow_id, event_type, from_status, to_status, actor_id, actor_role, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		ev.ID, ev.EscrowID, ev.Type, ev.FromStatus, ev.ToStatus,
		ev.ActorID, ev.ActorRole, ev.Note, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escrow event: %w", err)
	}
	return nil
}

// ListByEscrowID returns a record's events in commit order.
func (r *EventRepo) ListByEscrowID(ctx context.Context, escrowID uuid.UUID) ([]domain.EscrowEvent, error) {
	query := `SELECT id, escrow_id, event_type, from_status, to_status, actor_id, actor_role, note, created_at
		FROM escrow_events WHERE escrow_id = $1 ORDER BY seq ASC`

	rows, err := r.pool.Query(ctx, query, escrowID)
	if err != nil {
		return nil, fmt.Errorf("list escrow events: %w", err)
	}
	defer rows.Close()

	events := []domain.EscrowEvent{}
	for rows.Next() {
		var ev domain.EscrowEvent
		err := rows.Scan(
			&ev.ID, &ev.EscrowID, &ev.Type, &ev.FromStatus, &ev.ToStatus,
			&ev.ActorID, &ev.ActorRole, &ev.Note, &ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan escrow event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow events: %w", err)
	}
	return events, nil
}
