package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports/mocks"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type schedulerTestDeps struct {
	scheduler  *AutoReleaseScheduler
	escrowRepo *mocks.MockEscrowRepository
	ledger     *mocks.MockEscrowLedger
	lock       *mocks.MockSchedulerLock
	now        time.Time
}

func setupScheduler(t *testing.T, withLock bool) *schedulerTestDeps {
	ctrl := gomock.NewController(t)
	d := &schedulerTestDeps{
		escrowRepo: mocks.NewMockEscrowRepository(ctrl),
		ledger:     mocks.NewMockEscrowLedger(ctrl),
		now:        time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
	var lock *mocks.MockSchedulerLock
	if withLock {
		lock = mocks.NewMockSchedulerLock(ctrl)
		d.lock = lock
	}

	cfg := SchedulerConfig{Schedule: "@every 1m", BatchSize: 10, Workers: 2, LockTTL: time.Minute}
	var err error
	if withLock {
		d.scheduler, err = NewAutoReleaseScheduler(d.escrowRepo, d.ledger, lock, cfg, newTestLogger())
	} else {
		d.scheduler, err = NewAutoReleaseScheduler(d.escrowRepo, d.ledger, nil, cfg, newTestLogger())
	}
	require.NoError(t, err)
	d.scheduler.WithClock(func() time.Time { return d.now })
	t.Cleanup(func() { d.scheduler.Stop(context.Background()) })
	return d
}

func TestAutoReleaseScheduler_Tick_ClassifiesOutcomes(t *testing.T) {
	d := setupScheduler(t, false)
	ctx := context.Background()

	released, noop, disputed, broken := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	d.escrowRepo.EXPECT().ListDueForRelease(gomock.Any(), d.now, 10).
		Return([]uuid.UUID{released, noop, disputed, broken}, nil)

	d.ledger.EXPECT().Release(gomock.Any(), released, domain.SystemActor).
		Return(&domain.TransitionResult{Record: &domain.EscrowRecord{ID: released}, Applied: true}, nil)
	d.ledger.EXPECT().Release(gomock.Any(), noop, domain.SystemActor).
		Return(&domain.TransitionResult{Record: &domain.EscrowRecord{ID: noop}, Applied: false}, nil)
	d.ledger.EXPECT().Release(gomock.Any(), disputed, domain.SystemActor).
		Return(nil, apperror.ErrInvalidTransition("cannot release a disputed escrow"))
	d.ledger.EXPECT().Release(gomock.Any(), broken, domain.SystemActor).
		Return(nil, apperror.ErrStoreUnavailable(errors.New("connection reset")))

	report, err := d.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, &TickReport{Scanned: 4, Released: 1, Skipped: 2, Failed: 1}, report)
}

func TestAutoReleaseScheduler_Tick_NothingDue(t *testing.T) {
	d := setupScheduler(t, false)

	d.escrowRepo.EXPECT().ListDueForRelease(gomock.Any(), d.now, 10).Return([]uuid.UUID{}, nil)

	report, err := d.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &TickReport{}, report)
}

func TestAutoReleaseScheduler_Tick_StoreError(t *testing.T) {
	d := setupScheduler(t, false)

	d.escrowRepo.EXPECT().ListDueForRelease(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("db down"))

	report, err := d.scheduler.Tick(context.Background())
	assert.Nil(t, report)
	assertAppError(t, err, apperror.CodeStoreUnavailable)
}

func TestAutoReleaseScheduler_Tick_LockHeldElsewhere(t *testing.T) {
	d := setupScheduler(t, true)

	d.lock.EXPECT().Acquire(gomock.Any(), "auto-release", time.Minute).Return(false, nil)

	report, err := d.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Locked)
	assert.Zero(t, report.Scanned)
}

func TestAutoReleaseScheduler_Tick_ReleasesLockAfterScan(t *testing.T) {
	d := setupScheduler(t, true)
	id := uuid.New()

	gomock.InOrder(
		d.lock.EXPECT().Acquire(gomock.Any(), "auto-release", time.Minute).Return(true, nil),
		d.escrowRepo.EXPECT().ListDueForRelease(gomock.Any(), d.now, 10).Return([]uuid.UUID{id}, nil),
		d.lock.EXPECT().Release(gomock.Any(), "auto-release").Return(nil),
	)
	d.ledger.EXPECT().Release(gomock.Any(), id, domain.SystemActor).
		Return(&domain.TransitionResult{Record: &domain.EscrowRecord{ID: id}, Applied: true}, nil)

	report, err := d.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Released)
}

func TestAutoReleaseScheduler_Tick_LockErrorStillScans(t *testing.T) {
	d := setupScheduler(t, true)

	d.lock.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
	d.escrowRepo.EXPECT().ListDueForRelease(gomock.Any(), d.now, 10).Return([]uuid.UUID{}, nil)

	report, err := d.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Locked)
}

func TestAutoReleaseScheduler_Start(t *testing.T) {
	d := setupScheduler(t, false)

	require.NoError(t, d.scheduler.Start(context.Background()))
	err := d.scheduler.Start(context.Background())
	assert.EqualError(t, err, "scheduler already started")
}

func TestAutoReleaseScheduler_Start_InvalidSchedule(t *testing.T) {
	ctrl := gomock.NewController(t)
	s, err := NewAutoReleaseScheduler(
		mocks.NewMockEscrowRepository(ctrl),
		mocks.NewMockEscrowLedger(ctrl),
		nil,
		SchedulerConfig{Schedule: "not a schedule"},
		newTestLogger(),
	)
	require.NoError(t, err)
	defer s.Stop(context.Background())

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}
