package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"timebank-escrow/internal/adapter/storage/memory"
	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/service"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type escrowWorld struct {
	store      *memory.Store
	inbox      *memory.NotificationInbox
	dispatcher *service.NotificationDispatcher
	ledger     *service.EscrowLedgerImpl
	resolver   *service.DisputeResolverImpl
	scheduler  *service.AutoReleaseScheduler
	clock      *fakeClock
}

func newEscrowWorld(t *testing.T) *escrowWorld {
	t.Helper()
	log := zerolog.Nop()
	w := &escrowWorld{
		store: memory.NewStore(),
		inbox: memory.NewNotificationInbox(),
		clock: &fakeClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
	w.dispatcher = service.NewNotificationDispatcher([]ports.NotificationChannel{w.inbox}, []time.Duration{}, log)
	w.ledger = service.NewEscrowLedger(
		w.store.Accounts(), w.store.Escrows(), w.store.Events(), w.store.Disputes(),
		w.store.Idempotency(), nil, w.store, w.dispatcher,
		service.LedgerConfig{HoldWindow: 72 * time.Hour}, log,
	).WithClock(w.clock.Now)
	w.resolver = service.NewDisputeResolver(
		w.ledger, w.store.Disputes(), w.store.Escrows(), w.dispatcher,
		service.NewAuditService(w.store.Audit(), log), log,
	).WithClock(w.clock.Now)

	var err error
	w.scheduler, err = service.NewAutoReleaseScheduler(w.store.Escrows(), w.ledger, nil,
		service.SchedulerConfig{BatchSize: 50, Workers: 4, LockTTL: time.Minute}, log)
	require.NoError(t, err)
	w.scheduler.WithClock(w.clock.Now)
	t.Cleanup(func() { w.scheduler.Stop(context.Background()) })
	return w
}

func (w *escrowWorld) openAccount(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := service.NewAccountService(w.store.Accounts(), zerolog.Nop()).Open(context.Background(), id, balance)
	require.NoError(t, err)
	return id
}

func (w *escrowWorld) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	a, err := w.store.Accounts().GetByUserID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a.Balance
}

// assertConserved checks that balances plus open escrows still add up to total.
func (w *escrowWorld) assertConserved(t *testing.T, total int64) {
	t.Helper()
	ctx := context.Background()
	inAccounts, err := w.store.Accounts().TotalBalance(ctx)
	require.NoError(t, err)
	stats, err := w.store.Escrows().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, inAccounts+stats.CreditsInFlight)
}

func (w *escrowWorld) create(t *testing.T, client, freelancer uuid.UUID, amount int64) *domain.EscrowRecord {
	t.Helper()
	record, err := w.ledger.CreateEscrow(context.Background(), ports.CreateEscrowRequest{
		Actor:        domain.UserActor(client),
		ClientID:     client,
		FreelancerID: freelancer,
		ServiceID:    uuid.New(),
		Amount:       amount,
		Terms:        "tutoring session",
	})
	require.NoError(t, err)
	return record
}

func TestScenario_CreateAndRelease(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)

	record := w.create(t, client, freelancer, 500)
	assert.Equal(t, int64(500), w.balance(t, client))
	assert.Equal(t, int64(0), w.balance(t, freelancer))
	w.assertConserved(t, 1000)

	result, err := w.ledger.Release(ctx, record.ID, domain.UserActor(client))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(500), w.balance(t, client))
	assert.Equal(t, int64(500), w.balance(t, freelancer))
	w.assertConserved(t, 1000)

	again, err := w.ledger.Release(ctx, record.ID, domain.UserActor(client))
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, int64(500), w.balance(t, freelancer))

	_, err = w.ledger.Refund(ctx, record.ID, domain.UserActor(client))
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))

	tl, err := w.ledger.Timeline(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, tl.Events, 2)
	assert.Equal(t, domain.EventEscrowCreated, tl.Events[0].Type)
	assert.Equal(t, domain.EventEscrowReleased, tl.Events[1].Type)
	assert.Nil(t, tl.AutoReleaseIn)

	require.NoError(t, w.dispatcher.Wait(ctx))
	notes, err := w.inbox.ListByUser(ctx, freelancer, 10)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.ElementsMatch(t,
		[]domain.EventType{domain.EventEscrowCreated, domain.EventEscrowReleased},
		[]domain.EventType{notes[0].Type, notes[1].Type})
}

func TestScenario_DisputeResolvedWithRefund(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)
	admin := domain.AdminActor(uuid.New())

	record := w.create(t, client, freelancer, 300)

	_, err := w.ledger.Accept(ctx, record.ID, domain.UserActor(freelancer))
	require.NoError(t, err)

	dispute, err := w.ledger.OpenDispute(ctx, record.ID, "session never happened", domain.UserActor(client))
	require.NoError(t, err)
	assert.Equal(t, freelancer, dispute.RespondentID)

	// Frozen: no party can settle and the scheduler skips it.
	_, err = w.ledger.Release(ctx, record.ID, domain.UserActor(client))
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))
	w.clock.Advance(100 * time.Hour)
	report, err := w.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)

	result, err := w.resolver.Resolve(ctx, ports.ResolveRequest{
		EscrowID: record.ID,
		Decision: domain.DecisionRefund,
		Note:     "no evidence of delivery",
		Actor:    admin,
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(1000), w.balance(t, client))
	assert.Equal(t, int64(0), w.balance(t, freelancer))
	w.assertConserved(t, 1000)

	resolved, err := w.resolver.GetDispute(ctx, record.ID, domain.UserActor(freelancer))
	require.NoError(t, err)
	assert.False(t, resolved.IsOpen())
	assert.Equal(t, domain.DecisionRefund, *resolved.Decision)
	assert.Equal(t, "no evidence of delivery", *resolved.ResolutionNote)

	repeat, err := w.resolver.Resolve(ctx, ports.ResolveRequest{
		EscrowID: record.ID,
		Decision: domain.DecisionRefund,
		Note:     "no evidence of delivery",
		Actor:    admin,
	})
	require.NoError(t, err)
	assert.False(t, repeat.Applied)

	_, err = w.resolver.Resolve(ctx, ports.ResolveRequest{
		EscrowID: record.ID,
		Decision: domain.DecisionRelease,
		Note:     "changed my mind",
		Actor:    admin,
	})
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))

	tl, err := w.ledger.Timeline(ctx, record.ID)
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(tl.Events))
	for _, ev := range tl.Events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventEscrowCreated,
		domain.EventEscrowAccepted,
		domain.EventEscrowDisputed,
		domain.EventDisputeResolved,
	}, types)

	assert.Eventually(t, func() bool {
		entries := w.store.Audit().Entries()
		return len(entries) == 1 && entries[0].Action == domain.AuditActionResolveDispute
	}, time.Second, 10*time.Millisecond)
	entry := w.store.Audit().Entries()[0]
	require.NotNil(t, tl.Escrow.ResolvedAt)
	assert.True(t, entry.CreatedAt.Equal(*tl.Escrow.ResolvedAt), "audit entry and resolution share the ledger clock")
}

func TestScenario_AutoReleaseTickIsIdempotent(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)

	w.create(t, client, freelancer, 200)
	w.create(t, client, freelancer, 300)

	report, err := w.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned, "nothing is due before the hold window elapses")

	w.clock.Advance(72 * time.Hour)

	report, err = w.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Released)
	assert.Equal(t, int64(500), w.balance(t, freelancer))

	report, err = w.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Equal(t, int64(500), w.balance(t, freelancer))
	w.assertConserved(t, 1000)
}

func TestScenario_ConcurrentReleaseAppliesOnce(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)
	record := w.create(t, client, freelancer, 400)
	w.clock.Advance(73 * time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		actor := domain.SystemActor
		if i%2 == 0 {
			actor = domain.UserActor(client)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := w.ledger.Release(ctx, record.ID, actor)
			if !assert.NoError(t, err) {
				return
			}
			if result.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(400), w.balance(t, freelancer))
	w.assertConserved(t, 1000)
}

func TestScenario_ConcurrentCreatesNeverOverdraw(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		created      int
		insufficient int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.ledger.CreateEscrow(ctx, ports.CreateEscrowRequest{
				Actor:        domain.UserActor(client),
				ClientID:     client,
				FreelancerID: freelancer,
				ServiceID:    uuid.New(),
				Amount:       100,
			})
			mu.Lock()
			defer mu.Unlock()
			switch apperror.Code(err) {
			case "":
				created++
			case apperror.CodeInsufficientFunds:
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, created)
	assert.Equal(t, 10, insufficient)
	assert.Equal(t, int64(0), w.balance(t, client))
	w.assertConserved(t, 1000)
}

func TestScenario_IdempotentCreate(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)

	req := ports.CreateEscrowRequest{
		Actor:          domain.UserActor(client),
		ClientID:       client,
		FreelancerID:   freelancer,
		ServiceID:      uuid.New(),
		Amount:         250,
		IdempotencyKey: "checkout-42",
	}
	first, err := w.ledger.CreateEscrow(ctx, req)
	require.NoError(t, err)
	second, err := w.ledger.CreateEscrow(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(750), w.balance(t, client))
}

func TestScenario_ClientCannotRefundAcceptedEscrow(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)
	record := w.create(t, client, freelancer, 100)

	refundable := w.create(t, client, freelancer, 100)
	result, err := w.ledger.Refund(ctx, refundable.ID, domain.UserActor(client))
	require.NoError(t, err)
	assert.True(t, result.Applied)

	_, err = w.ledger.Accept(ctx, record.ID, domain.UserActor(freelancer))
	require.NoError(t, err)
	_, err = w.ledger.Refund(ctx, record.ID, domain.UserActor(client))
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))

	assert.Equal(t, int64(900), w.balance(t, client))
	w.assertConserved(t, 1000)
}

func TestScenario_ResolveRequiresDispute(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)
	admin := domain.AdminActor(uuid.New())

	record := w.create(t, client, freelancer, 500)
	_, err := w.ledger.Release(ctx, record.ID, domain.UserActor(client))
	require.NoError(t, err)

	_, err = w.resolver.Resolve(ctx, ports.ResolveRequest{
		EscrowID: record.ID,
		Decision: domain.DecisionRelease,
		Note:     "looks fine",
		Actor:    admin,
	})
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))
	assert.Empty(t, w.store.Audit().Entries())
}

func TestScenario_AdminCannotBypassResolver(t *testing.T) {
	w := newEscrowWorld(t)
	ctx := context.Background()
	client := w.openAccount(t, 1000)
	freelancer := w.openAccount(t, 0)
	admin := domain.AdminActor(uuid.New())

	record := w.create(t, client, freelancer, 500)
	_, err := w.ledger.OpenDispute(ctx, record.ID, "no show", domain.UserActor(freelancer))
	require.NoError(t, err)

	_, err = w.ledger.Release(ctx, record.ID, admin)
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))
	_, err = w.ledger.Refund(ctx, record.ID, admin)
	assert.Equal(t, apperror.CodeInvalidTransition, apperror.Code(err))

	dispute, err := w.resolver.GetDispute(ctx, record.ID, admin)
	require.NoError(t, err)
	assert.True(t, dispute.IsOpen())
	assert.Equal(t, int64(500), w.balance(t, client), "credits stay held")
	assert.Equal(t, int64(0), w.balance(t, freelancer))
	w.assertConserved(t, 1000)
}
