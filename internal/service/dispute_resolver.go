package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxResolutionNoteLen = 2000

// DisputeResolverImpl implements ports.DisputeResolver on top of the ledger.
type DisputeResolverImpl struct {
	ledger      ports.EscrowLedger
	disputeRepo ports.DisputeRepository
	escrowRepo  ports.EscrowRepository
	notifier    ports.NotificationSink
	audit       ports.AuditService
	log         zerolog.Logger
	nowFn       func() time.Time
}

// NewDisputeResolver creates a new DisputeResolverImpl. audit may be nil.
func NewDisputeResolver(
	ledger ports.EscrowLedger,
	disputeRepo ports.DisputeRepository,
	escrowRepo ports.EscrowRepository,
	notifier ports.NotificationSink,
	audit ports.AuditService,
	log zerolog.Logger,
) *DisputeResolverImpl {
	return &DisputeResolverImpl{
		ledger:      ledger,
		disputeRepo: disputeRepo,
		escrowRepo:  escrowRepo,
		notifier:    notifier,
		audit:       audit,
		log:         log,
		nowFn:       time.Now,
	}
}

// WithClock replaces the time source used for audit entries.
func (r *DisputeResolverImpl) WithClock(now func() time.Time) *DisputeResolverImpl {
	r.nowFn = now
	return r
}

// Resolve settles a disputed record and tells both parties the outcome.
// Resolving again with the same decision succeeds with Applied=false.
func (r *DisputeResolverImpl) Resolve(ctx context.Context, req ports.ResolveRequest) (*domain.TransitionResult, error) {
	if !req.Actor.IsAdmin() {
		return nil, apperror.ErrUnauthorized("only an administrator can resolve disputes")
	}
	if !req.Decision.Valid() {
		return nil, apperror.Validation("decision must be release or refund")
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return nil, apperror.Validation("resolution note is required")
	}
	if len(note) > maxResolutionNoteLen {
		return nil, apperror.Validation(fmt.Sprintf("resolution note exceeds %d characters", maxResolutionNoteLen))
	}

	result, err := r.ledger.Settle(ctx, ports.SettleRequest{
		EscrowID:        req.EscrowID,
		Decision:        req.Decision,
		Actor:           req.Actor,
		Note:            note,
		RequireDisputed: true,
	})
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		return result, nil
	}

	record := result.Record
	r.log.Info().
		Str("escrow_id", record.ID.String()).
		Str("decision", string(req.Decision)).
		Str("admin_id", req.Actor.UserID.String()).
		Msg("dispute resolved")

	msg := fmt.Sprintf("Dispute resolved: credits %s. Note: %s", record.Status, note)
	for _, userID := range []uuid.UUID{record.ClientID, record.FreelancerID} {
		r.notifier.Notify(ctx, userID, domain.EventDisputeResolved, domain.NotificationPayload{
			EscrowID: record.ID,
			Message:  msg,
			Priority: domain.PriorityHigh,
			Data: map[string]any{
				"decision":        string(req.Decision),
				"resolution_note": note,
				"amount":          record.Amount,
			},
		})
	}

	r.recordAudit(ctx, req, note)

	return result, nil
}

func (r *DisputeResolverImpl) recordAudit(ctx context.Context, req ports.ResolveRequest, note string) {
	if r.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{
		"decision":        string(req.Decision),
		"resolution_note": note,
	})
	r.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      req.Actor.ID(),
		Action:       domain.AuditActionResolveDispute,
		ResourceType: "escrow",
		ResourceID:   req.EscrowID.String(),
		Details:      string(details),
		CreatedAt:    r.nowFn().UTC(),
	})
}

// GetDispute returns the latest dispute of a record to a party or an administrator.
func (r *DisputeResolverImpl) GetDispute(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.Dispute, error) {
	record, err := r.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("get escrow: %w", err))
	}
	if record == nil {
		return nil, apperror.ErrRecordNotFound()
	}
	if !actor.IsAdmin() && !record.IsParty(actor.UserID) {
		return nil, apperror.ErrUnauthorized("not a party to this escrow")
	}

	dispute, err := r.disputeRepo.GetLatestByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("get dispute: %w", err))
	}
	if dispute == nil {
		return nil, apperror.ErrNotFound("Dispute")
	}
	return dispute, nil
}
