// Package memory is a single-process store implementing the repository ports.
// One transaction writes at a time; its changes are staged and become visible to
// readers only on commit.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrTxClosed is returned when a committed or rolled back transaction is reused.
var ErrTxClosed = errors.New("memory: transaction already closed")

// ErrForeignTx is returned when a repository receives a transaction from another store.
var ErrForeignTx = errors.New("memory: transaction not created by this store")

// Store holds all state. Writers serialize on sem for the lifetime of a transaction.
type Store struct {
	sem chan struct{}

	mu          sync.RWMutex
	accounts    map[uuid.UUID]domain.Account
	escrows     map[uuid.UUID]domain.EscrowRecord
	events      map[uuid.UUID][]domain.EscrowEvent
	disputes    map[uuid.UUID]domain.Dispute
	idempotency map[string]domain.IdempotencyLog
	audit       []domain.AuditLog
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sem:         make(chan struct{}, 1),
		accounts:    make(map[uuid.UUID]domain.Account),
		escrows:     make(map[uuid.UUID]domain.EscrowRecord),
		events:      make(map[uuid.UUID][]domain.EscrowEvent),
		disputes:    make(map[uuid.UUID]domain.Dispute),
		idempotency: make(map[string]domain.IdempotencyLog),
	}
}

// Begin implements ports.DBTransactor. It blocks until no other transaction is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{
		store:       s,
		accounts:    make(map[uuid.UUID]domain.Account),
		escrows:     make(map[uuid.UUID]domain.EscrowRecord),
		disputes:    make(map[uuid.UUID]domain.Dispute),
		idempotency: make(map[string]domain.IdempotencyLog),
	}, nil
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "memory" }

// Ping implements ports.HealthChecker.
func (s *Store) Ping(_ context.Context) error { return nil }

// memTx stages writes until Commit. The embedded pgx.Tx is nil; only Commit and
// Rollback are called on it outside this package.
type memTx struct {
	pgx.Tx

	store       *Store
	closed      bool
	accounts    map[uuid.UUID]domain.Account
	escrows     map[uuid.UUID]domain.EscrowRecord
	events      []domain.EscrowEvent
	disputes    map[uuid.UUID]domain.Dispute
	idempotency map[string]domain.IdempotencyLog
}

func (t *memTx) Commit(_ context.Context) error {
	if t.closed {
		return ErrTxClosed
	}
	s := t.store
	s.mu.Lock()
	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, e := range t.escrows {
		s.escrows[id] = e
	}
	for _, ev := range t.events {
		s.events[ev.EscrowID] = append(s.events[ev.EscrowID], ev)
	}
	for id, d := range t.disputes {
		s.disputes[id] = d
	}
	for k, l := range t.idempotency {
		s.idempotency[k] = l
	}
	s.mu.Unlock()
	t.close()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.closed {
		return nil
	}
	t.close()
	return nil
}

func (t *memTx) close() {
	t.closed = true
	<-t.store.sem
}

func (s *Store) txFrom(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.store != s {
		return nil, ErrForeignTx
	}
	if mt.closed {
		return nil, ErrTxClosed
	}
	return mt, nil
}

// account reads through the transaction's staged writes.
func (t *memTx) account(id uuid.UUID) (domain.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.accounts[id]
	return a, ok
}

func (t *memTx) escrow(id uuid.UUID) (domain.EscrowRecord, bool) {
	if e, ok := t.escrows[id]; ok {
		return e, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	e, ok := t.store.escrows[id]
	return e, ok
}

func (t *memTx) dispute(id uuid.UUID) (domain.Dispute, bool) {
	if d, ok := t.disputes[id]; ok {
		return d, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	d, ok := t.store.disputes[id]
	return d, ok
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneEscrow(e domain.EscrowRecord) domain.EscrowRecord {
	if e.DisputeReason != nil {
		r := *e.DisputeReason
		e.DisputeReason = &r
	}
	e.AcceptedAt = cloneTime(e.AcceptedAt)
	e.ResolvedAt = cloneTime(e.ResolvedAt)
	return e
}

func cloneDispute(d domain.Dispute) domain.Dispute {
	if d.Decision != nil {
		v := *d.Decision
		d.Decision = &v
	}
	if d.ResolutionNote != nil {
		v := *d.ResolutionNote
		d.ResolutionNote = &v
	}
	if d.ResolvedBy != nil {
		v := *d.ResolvedBy
		d.ResolvedBy = &v
	}
	d.ResolvedAt = cloneTime(d.ResolvedAt)
	return d
}
