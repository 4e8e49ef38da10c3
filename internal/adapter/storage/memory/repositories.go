package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ---- Accounts ----

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct{ s *Store }

// Accounts returns the account repository backed by s.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

func (r *AccountRepo) Create(_ context.Context, a *domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[a.UserID]; ok {
		return fmt.Errorf("account already exists: %s", a.UserID)
	}
	r.s.accounts[a.UserID] = *a
	return nil
}

func (r *AccountRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AccountRepo) GetByUserIDForUpdate(_ context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Account, error) {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return nil, err
	}
	a, ok := t.account(userID)
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AccountRepo) Debit(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	a, ok := t.account(userID)
	if !ok {
		return fmt.Errorf("account not found: %s", userID)
	}
	if a.Balance < amount {
		return domain.ErrInsufficientBalance
	}
	a.Balance -= amount
	a.UpdatedAt = time.Now().UTC()
	t.accounts[userID] = a
	return nil
}

func (r *AccountRepo) Credit(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	a, ok := t.account(userID)
	if !ok {
		return fmt.Errorf("account not found: %s", userID)
	}
	a.Balance += amount
	a.UpdatedAt = time.Now().UTC()
	t.accounts[userID] = a
	return nil
}

func (r *AccountRepo) TotalBalance(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var total int64
	for _, a := range r.s.accounts {
		total += a.Balance
	}
	return total, nil
}

// ---- Escrows ----

// EscrowRepo implements ports.EscrowRepository.
type EscrowRepo struct{ s *Store }

// Escrows returns the escrow repository backed by s.
func (s *Store) Escrows() *EscrowRepo { return &EscrowRepo{s: s} }

func (r *EscrowRepo) Create(_ context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	if _, ok := t.escrow(e.ID); ok {
		return fmt.Errorf("escrow already exists: %s", e.ID)
	}
	t.escrows[e.ID] = cloneEscrow(*e)
	return nil
}

func (r *EscrowRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.EscrowRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.escrows[id]
	if !ok {
		return nil, nil
	}
	e = cloneEscrow(e)
	return &e, nil
}

func (r *EscrowRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.EscrowRecord, error) {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return nil, err
	}
	e, ok := t.escrow(id)
	if !ok {
		return nil, nil
	}
	e = cloneEscrow(e)
	return &e, nil
}

func (r *EscrowRepo) UpdateState(_ context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	current, ok := t.escrow(e.ID)
	if !ok {
		return fmt.Errorf("escrow not found: %s", e.ID)
	}
	updated := cloneEscrow(*e)
	current.Status = updated.Status
	current.DisputeReason = updated.DisputeReason
	current.AcceptedAt = updated.AcceptedAt
	current.ResolvedAt = updated.ResolvedAt
	current.UpdatedAt = updated.UpdatedAt
	t.escrows[e.ID] = current
	return nil
}

func (r *EscrowRepo) ListDueForRelease(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	due := make([]domain.EscrowRecord, 0)
	for _, e := range r.s.escrows {
		if e.IsDueForRelease(now) {
			due = append(due, e)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].AutoReleaseAt.Before(due[j].AutoReleaseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, e := range due {
		ids[i] = e.ID
	}
	return ids, nil
}

func (r *EscrowRepo) List(_ context.Context, params ports.EscrowListParams) ([]domain.EscrowRecord, error) {
	r.s.mu.RLock()
	out := make([]domain.EscrowRecord, 0)
	for _, e := range r.s.escrows {
		if !matchesStatus(e.Status, params.Statuses) {
			continue
		}
		if params.PartyID != nil && !e.IsParty(*params.PartyID) {
			continue
		}
		out = append(out, cloneEscrow(e))
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if params.Offset >= len(out) {
		return []domain.EscrowRecord{}, nil
	}
	out = out[params.Offset:]
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func matchesStatus(s domain.EscrowStatus, statuses []domain.EscrowStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func (r *EscrowRepo) Stats(_ context.Context) (*domain.EscrowStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := &domain.EscrowStats{}
	for _, e := range r.s.escrows {
		switch e.Status {
		case domain.EscrowStatusHeld:
			stats.HeldEscrows++
		case domain.EscrowStatusDisputed:
			stats.DisputedEscrows++
		default:
			continue
		}
		stats.ActiveEscrows++
		stats.CreditsInFlight += e.Amount
	}
	for _, d := range r.s.disputes {
		if d.IsOpen() {
			stats.DisputesOpen++
		}
	}
	return stats, nil
}

// ---- Timeline events ----

// EventRepo implements ports.EscrowEventRepository.
type EventRepo struct{ s *Store }

// Events returns the timeline repository backed by s.
func (s *Store) Events() *EventRepo { return &EventRepo{s: s} }

func (r *EventRepo) Append(_ context.Context, tx pgx.Tx, ev *domain.EscrowEvent) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	t.events = append(t.events, *ev)
	return nil
}

func (r *EventRepo) ListByEscrowID(_ context.Context, escrowID uuid.UUID) ([]domain.EscrowEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	events := r.s.events[escrowID]
	out := make([]domain.EscrowEvent, len(events))
	copy(out, events)
	return out, nil
}

// ---- Disputes ----

// DisputeRepo implements ports.DisputeRepository.
type DisputeRepo struct{ s *Store }

// Disputes returns the dispute repository backed by s.
func (s *Store) Disputes() *DisputeRepo { return &DisputeRepo{s: s} }

func (r *DisputeRepo) Create(_ context.Context, tx pgx.Tx, d *domain.Dispute) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	if _, ok := t.dispute(d.ID); ok {
		return fmt.Errorf("dispute already exists: %s", d.ID)
	}
	t.disputes[d.ID] = cloneDispute(*d)
	return nil
}

func (r *DisputeRepo) GetOpenByEscrowIDForUpdate(_ context.Context, tx pgx.Tx, escrowID uuid.UUID) (*domain.Dispute, error) {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return nil, err
	}

	candidates := make(map[uuid.UUID]domain.Dispute)
	r.s.mu.RLock()
	for id, d := range r.s.disputes {
		if d.EscrowID == escrowID {
			candidates[id] = d
		}
	}
	r.s.mu.RUnlock()
	for id, d := range t.disputes {
		if d.EscrowID == escrowID {
			candidates[id] = d
		}
	}

	for _, d := range candidates {
		if d.IsOpen() {
			d = cloneDispute(d)
			return &d, nil
		}
	}
	return nil, nil
}

func (r *DisputeRepo) GetLatestByEscrowID(_ context.Context, escrowID uuid.UUID) (*domain.Dispute, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.Dispute
	for _, d := range r.s.disputes {
		if d.EscrowID != escrowID {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			c := cloneDispute(d)
			latest = &c
		}
	}
	return latest, nil
}

func (r *DisputeRepo) Resolve(_ context.Context, tx pgx.Tx, d *domain.Dispute) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	if _, ok := t.dispute(d.ID); !ok {
		return fmt.Errorf("dispute not found: %s", d.ID)
	}
	t.disputes[d.ID] = cloneDispute(*d)
	return nil
}

// ---- Idempotency ----

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct{ s *Store }

// Idempotency returns the idempotency log repository backed by s.
func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

func (r *IdempotencyRepo) Create(_ context.Context, tx pgx.Tx, l *domain.IdempotencyLog) error {
	t, err := r.s.txFrom(tx)
	if err != nil {
		return err
	}
	r.s.mu.RLock()
	_, exists := r.s.idempotency[l.Key]
	r.s.mu.RUnlock()
	if _, staged := t.idempotency[l.Key]; exists || staged {
		return fmt.Errorf("duplicate idempotency key: %s", l.Key)
	}
	t.idempotency[l.Key] = *l
	return nil
}

func (r *IdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// ---- Audit ----

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct{ s *Store }

// Audit returns the audit repository backed by s.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) Create(_ context.Context, entry *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *entry)
	return nil
}

// Entries returns a copy of the recorded audit entries.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.AuditLog, len(r.s.audit))
	copy(out, r.s.audit)
	return out
}
