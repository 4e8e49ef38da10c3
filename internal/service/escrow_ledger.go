package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/metrics"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const defaultIdempotencyTTL = 24 * time.Hour

// LedgerConfig holds the tunables of the escrow ledger.
type LedgerConfig struct {
	HoldWindow     time.Duration
	IdempotencyTTL time.Duration
}

// EscrowLedgerImpl implements ports.EscrowLedger. Every mutation runs in one
// store transaction that locks the escrow row before any account row.
type EscrowLedgerImpl struct {
	accountRepo ports.AccountRepository
	escrowRepo  ports.EscrowRepository
	eventRepo   ports.EscrowEventRepository
	disputeRepo ports.DisputeRepository
	idempRepo   ports.IdempotencyRepository
	idempCache  ports.IdempotencyCache // optional
	transactor  ports.DBTransactor
	notifier    ports.NotificationSink
	cfg         LedgerConfig
	nowFn       func() time.Time
	log         zerolog.Logger
}

// NewEscrowLedger creates a new EscrowLedgerImpl. idempCache may be nil.
func NewEscrowLedger(
	accountRepo ports.AccountRepository,
	escrowRepo ports.EscrowRepository,
	eventRepo ports.EscrowEventRepository,
	disputeRepo ports.DisputeRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	notifier ports.NotificationSink,
	cfg LedgerConfig,
	log zerolog.Logger,
) *EscrowLedgerImpl {
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = domain.DefaultHoldWindow
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &EscrowLedgerImpl{
		accountRepo: accountRepo,
		escrowRepo:  escrowRepo,
		eventRepo:   eventRepo,
		disputeRepo: disputeRepo,
		idempRepo:   idempRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		notifier:    notifier,
		cfg:         cfg,
		nowFn:       func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// WithClock replaces the time source.
func (s *EscrowLedgerImpl) WithClock(now func() time.Time) *EscrowLedgerImpl {
	s.nowFn = now
	return s
}

// CreateEscrow debits the client and writes a held record in one transaction.
func (s *EscrowLedgerImpl) CreateEscrow(ctx context.Context, req ports.CreateEscrowRequest) (*domain.EscrowRecord, error) {
	const op = "create"

	if err := validateCreate(req); err != nil {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, err
	}

	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.ClientID, req.IdempotencyKey)
		replay, err := s.lookupIdempotent(ctx, idempKey)
		if err != nil {
			return nil, s.storeErr(op, "idempotency check", err)
		}
		if replay != nil {
			metrics.RecordTransition(op, metrics.OutcomeNoop)
			return replay, nil
		}
	}

	// Freelancer account is only read, never locked, so two creates between the
	// same pair in opposite directions cannot deadlock.
	freelancer, err := s.accountRepo.GetByUserID(ctx, req.FreelancerID)
	if err != nil {
		return nil, s.storeErr(op, "get freelancer account", err)
	}
	if freelancer == nil {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrNotFound("freelancer account")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, s.storeErr(op, "begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	client, err := s.accountRepo.GetByUserIDForUpdate(ctx, dbTx, req.ClientID)
	if err != nil {
		return nil, s.storeErr(op, "lock client account", err)
	}
	if client == nil {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrNotFound("client account")
	}
	if !client.CanCover(req.Amount) {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrInsufficientFunds()
	}

	now := s.nowFn()
	record := domain.NewEscrowRecord(req.ClientID, req.FreelancerID, req.ServiceID, req.Amount, req.Terms, now, s.cfg.HoldWindow)

	if err := s.accountRepo.Debit(ctx, dbTx, req.ClientID, req.Amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.RecordTransition(op, metrics.OutcomeRejected)
			return nil, apperror.ErrInsufficientFunds()
		}
		return nil, s.storeErr(op, "debit client", err)
	}
	if err := s.escrowRepo.Create(ctx, dbTx, record); err != nil {
		return nil, s.storeErr(op, "insert escrow", err)
	}
	event := domain.NewEscrowEvent(record, domain.EventEscrowCreated, nil, req.Actor, domain.RoleClient, "", now)
	if err := s.eventRepo.Append(ctx, dbTx, event); err != nil {
		return nil, s.storeErr(op, "append event", err)
	}

	var respJSON []byte
	if idempKey != "" {
		respJSON, err = json.Marshal(record)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("marshal escrow: %w", err))
		}
		entry := &domain.IdempotencyLog{
			Key:          idempKey,
			EscrowID:     record.ID,
			ResponseJSON: respJSON,
			CreatedAt:    now,
		}
		if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
			// A concurrent request with the same key won the race.
			_ = dbTx.Rollback(ctx)
			if replay, lookupErr := s.lookupIdempotent(ctx, idempKey); lookupErr == nil && replay != nil {
				metrics.RecordTransition(op, metrics.OutcomeNoop)
				return replay, nil
			}
			return nil, s.storeErr(op, "save idempotency log", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, s.storeErr(op, "commit tx", err)
	}

	if idempKey != "" && s.idempCache != nil {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, s.cfg.IdempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	metrics.RecordTransition(op, metrics.OutcomeApplied)
	metrics.RecordCredits("held", record.Amount)

	s.log.Info().
		Str("escrow_id", record.ID.String()).
		Str("client_id", record.ClientID.String()).
		Str("freelancer_id", record.FreelancerID.String()).
		Int64("amount", record.Amount).
		Msg("escrow created")

	msg := fmt.Sprintf("%s hours are held in escrow until %s", formatCredits(record.Amount), record.AutoReleaseAt.Format(time.RFC3339))
	s.notifyParties(ctx, record, domain.EventEscrowCreated, msg, "")

	return record, nil
}

func validateCreate(req ports.CreateEscrowRequest) error {
	if req.Amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if req.ClientID == uuid.Nil || req.FreelancerID == uuid.Nil || req.ServiceID == uuid.Nil {
		return apperror.Validation("client, freelancer and service are required")
	}
	if req.ClientID == req.FreelancerID {
		return apperror.Validation("client and freelancer must differ")
	}
	if req.Actor.Kind != domain.ActorUser || req.Actor.UserID != req.ClientID {
		return apperror.ErrUnauthorized("escrow must be created by the paying client")
	}
	return nil
}

// lookupIdempotent returns the record stored for key, checking redis before the
// idempotency log. A redis failure only costs the fast path.
func (s *EscrowLedgerImpl) lookupIdempotent(ctx context.Context, key string) (*domain.EscrowRecord, error) {
	if s.idempCache != nil {
		cached, err := s.idempCache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		}
		if cached != nil {
			return unmarshalEscrow(cached)
		}
	}

	entry, err := s.idempRepo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return unmarshalEscrow(entry.ResponseJSON)
}

func unmarshalEscrow(data []byte) (*domain.EscrowRecord, error) {
	var e domain.EscrowRecord
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal cached escrow: %w", err)
	}
	return &e, nil
}

// Accept records the freelancer's acceptance of a held escrow.
func (s *EscrowLedgerImpl) Accept(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error) {
	const op = "accept"

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, s.storeErr(op, "begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	record, err := s.lockEscrow(ctx, dbTx, op, escrowID)
	if err != nil {
		return nil, err
	}
	if record.RoleOf(actor) != domain.RoleFreelancer {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrUnauthorized("only the freelancer can accept an escrow")
	}
	if record.Status != domain.EscrowStatusHeld {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrInvalidTransition(fmt.Sprintf("cannot accept a %s escrow", record.Status))
	}
	if record.AcceptedAt != nil {
		metrics.RecordTransition(op, metrics.OutcomeNoop)
		return &domain.TransitionResult{Record: record, Applied: false}, nil
	}

	now := s.nowFn()
	from := record.Status
	record.AcceptedAt = &now
	record.UpdatedAt = now

	if err := s.escrowRepo.UpdateState(ctx, dbTx, record); err != nil {
		return nil, s.storeErr(op, "update escrow", err)
	}
	event := domain.NewEscrowEvent(record, domain.EventEscrowAccepted, &from, actor, domain.RoleFreelancer, "", now)
	if err := s.eventRepo.Append(ctx, dbTx, event); err != nil {
		return nil, s.storeErr(op, "append event", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, s.storeErr(op, "commit tx", err)
	}

	metrics.RecordTransition(op, metrics.OutcomeApplied)
	s.log.Info().Str("escrow_id", record.ID.String()).Msg("escrow accepted")

	s.notify(ctx, record.ClientID, record, domain.EventEscrowAccepted, "The freelancer accepted your escrow and started work", "")

	return &domain.TransitionResult{Record: record, Applied: true}, nil
}

// Release credits the freelancer. Releasing an already released record is a
// success with Applied=false.
func (s *EscrowLedgerImpl) Release(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error) {
	result, err := s.settle(ctx, escrowID, actor, "", releasePolicy)
	if err != nil || !result.Applied {
		return result, err
	}
	msg := fmt.Sprintf("%s hours were released to the freelancer", formatCredits(result.Record.Amount))
	s.notifyParties(ctx, result.Record, domain.EventEscrowReleased, msg, "")
	return result, nil
}

// Refund credits the client. Refunding an already refunded record is a success
// with Applied=false.
func (s *EscrowLedgerImpl) Refund(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.TransitionResult, error) {
	result, err := s.settle(ctx, escrowID, actor, "", refundPolicy)
	if err != nil || !result.Applied {
		return result, err
	}
	msg := fmt.Sprintf("%s hours were refunded to the client", formatCredits(result.Record.Amount))
	s.notifyParties(ctx, result.Record, domain.EventEscrowRefunded, msg, "")
	return result, nil
}

// Settle applies an administrative decision. The caller is responsible for
// notifying the parties.
func (s *EscrowLedgerImpl) Settle(ctx context.Context, req ports.SettleRequest) (*domain.TransitionResult, error) {
	if !req.Decision.Valid() {
		return nil, apperror.Validation("decision must be release or refund")
	}
	return s.settle(ctx, req.EscrowID, req.Actor, req.Note, adminSettlePolicy(req.Decision, req.RequireDisputed))
}

func (s *EscrowLedgerImpl) settle(ctx context.Context, escrowID uuid.UUID, actor domain.Actor, note string, policy settlePolicy) (*domain.TransitionResult, error) {
	op := policy.operation

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, s.storeErr(op, "begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	record, err := s.lockEscrow(ctx, dbTx, op, escrowID)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	noop, err := policy.check(record, actor, now)
	if err != nil {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, err
	}
	if noop {
		metrics.RecordTransition(op, metrics.OutcomeNoop)
		return &domain.TransitionResult{Record: record, Applied: false}, nil
	}

	from := record.Status
	role := record.RoleOf(actor)
	eventType := domain.EventEscrowReleased
	if policy.decision == domain.DecisionRefund {
		eventType = domain.EventEscrowRefunded
	}

	if from == domain.EscrowStatusDisputed {
		dispute, err := s.disputeRepo.GetOpenByEscrowIDForUpdate(ctx, dbTx, record.ID)
		if err != nil {
			return nil, s.storeErr(op, "lock dispute", err)
		}
		if dispute != nil {
			dispute.Resolve(policy.decision, note, actor.ID(), now)
			if err := s.disputeRepo.Resolve(ctx, dbTx, dispute); err != nil {
				return nil, s.storeErr(op, "resolve dispute", err)
			}
		}
		eventType = domain.EventDisputeResolved
	}

	if err := s.accountRepo.Credit(ctx, dbTx, record.Beneficiary(policy.decision), record.Amount); err != nil {
		return nil, s.storeErr(op, "credit beneficiary", err)
	}

	record.Status = domain.TerminalStatusFor(policy.decision)
	record.ResolvedAt = &now
	record.UpdatedAt = now
	if err := s.escrowRepo.UpdateState(ctx, dbTx, record); err != nil {
		return nil, s.storeErr(op, "update escrow", err)
	}
	event := domain.NewEscrowEvent(record, eventType, &from, actor, role, note, now)
	if err := s.eventRepo.Append(ctx, dbTx, event); err != nil {
		return nil, s.storeErr(op, "append event", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, s.storeErr(op, "commit tx", err)
	}

	metrics.RecordTransition(op, metrics.OutcomeApplied)
	metrics.RecordCredits(string(record.Status), record.Amount)

	s.log.Info().
		Str("escrow_id", record.ID.String()).
		Str("from", string(from)).
		Str("to", string(record.Status)).
		Str("actor_role", string(role)).
		Int64("amount", record.Amount).
		Msg("escrow settled")

	return &domain.TransitionResult{Record: record, Applied: true}, nil
}

// OpenDispute freezes a held record. Balances do not move.
func (s *EscrowLedgerImpl) OpenDispute(ctx context.Context, escrowID uuid.UUID, reason string, actor domain.Actor) (*domain.Dispute, error) {
	const op = "dispute"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.Validation("dispute reason is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, s.storeErr(op, "begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	record, err := s.lockEscrow(ctx, dbTx, op, escrowID)
	if err != nil {
		return nil, err
	}
	role := record.RoleOf(actor)
	if role != domain.RoleClient && role != domain.RoleFreelancer {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrUnauthorized("only a party to the escrow can open a dispute")
	}
	if record.Status != domain.EscrowStatusHeld {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrInvalidTransition(fmt.Sprintf("cannot dispute a %s escrow", record.Status))
	}

	now := s.nowFn()
	from := record.Status
	dispute := domain.NewDispute(record, actor.UserID, reason, now)
	if err := s.disputeRepo.Create(ctx, dbTx, dispute); err != nil {
		return nil, s.storeErr(op, "insert dispute", err)
	}

	record.Status = domain.EscrowStatusDisputed
	record.DisputeReason = &reason
	record.UpdatedAt = now
	if err := s.escrowRepo.UpdateState(ctx, dbTx, record); err != nil {
		return nil, s.storeErr(op, "update escrow", err)
	}
	event := domain.NewEscrowEvent(record, domain.EventEscrowDisputed, &from, actor, role, reason, now)
	if err := s.eventRepo.Append(ctx, dbTx, event); err != nil {
		return nil, s.storeErr(op, "append event", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, s.storeErr(op, "commit tx", err)
	}

	metrics.RecordTransition(op, metrics.OutcomeApplied)
	s.log.Info().
		Str("escrow_id", record.ID.String()).
		Str("dispute_id", dispute.ID.String()).
		Str("initiator_role", string(role)).
		Msg("escrow disputed")

	s.notifyParties(ctx, record, domain.EventEscrowDisputed, fmt.Sprintf("A dispute was opened: %s", reason), "")

	return dispute, nil
}

// GetStatus reads a record without locking.
func (s *EscrowLedgerImpl) GetStatus(ctx context.Context, escrowID uuid.UUID) (*domain.EscrowRecord, error) {
	record, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("get escrow: %w", err))
	}
	if record == nil {
		return nil, apperror.ErrRecordNotFound()
	}
	return record, nil
}

// Timeline returns the record with its events in commit order.
func (s *EscrowLedgerImpl) Timeline(ctx context.Context, escrowID uuid.UUID) (*domain.Timeline, error) {
	record, err := s.GetStatus(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list escrow events: %w", err))
	}
	return domain.BuildTimeline(record, events, s.nowFn()), nil
}

func (s *EscrowLedgerImpl) lockEscrow(ctx context.Context, dbTx pgx.Tx, op string, id uuid.UUID) (*domain.EscrowRecord, error) {
	record, err := s.escrowRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, s.storeErr(op, "lock escrow", err)
	}
	if record == nil {
		metrics.RecordTransition(op, metrics.OutcomeRejected)
		return nil, apperror.ErrRecordNotFound()
	}
	return record, nil
}

// storeErr reports a failed atomic unit. Nothing was applied, so the caller may retry.
func (s *EscrowLedgerImpl) storeErr(op, step string, err error) error {
	metrics.RecordTransition(op, metrics.OutcomeError)
	s.log.Error().Err(err).Str("operation", op).Str("step", step).Msg("escrow store failure")
	return apperror.ErrStoreUnavailable(fmt.Errorf("%s: %w", step, err))
}

func (s *EscrowLedgerImpl) notifyParties(ctx context.Context, record *domain.EscrowRecord, t domain.EventType, msg string, priority domain.NotificationPriority) {
	s.notify(ctx, record.ClientID, record, t, msg, priority)
	s.notify(ctx, record.FreelancerID, record, t, msg, priority)
}

func (s *EscrowLedgerImpl) notify(ctx context.Context, userID uuid.UUID, record *domain.EscrowRecord, t domain.EventType, msg string, priority domain.NotificationPriority) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, t, domain.NotificationPayload{
		EscrowID: record.ID,
		Message:  msg,
		Priority: priority,
		Data: map[string]any{
			"amount": record.Amount,
			"status": string(record.Status),
		},
	})
}

// formatCredits renders hundredths of an hour as "5.00".
func formatCredits(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
