package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/metrics"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const schedulerLockName = "auto-release"

// SchedulerConfig holds the tunables of the auto-release scheduler.
type SchedulerConfig struct {
	Schedule  string // cron spec, e.g. "@every 5m"
	BatchSize int
	Workers   int
	LockTTL   time.Duration
}

// TickReport summarises one scan.
type TickReport struct {
	Scanned  int  `json:"scanned"`
	Released int  `json:"released"`
	Skipped  int  `json:"skipped"`
	Failed   int  `json:"failed"`
	Locked   bool `json:"locked"` // another instance held the scan lock
}

// AutoReleaseScheduler releases held escrows whose hold window has elapsed.
// It never writes records itself; every release goes through the ledger, whose
// idempotent release makes overlapping ticks and instances harmless.
type AutoReleaseScheduler struct {
	escrowRepo ports.EscrowRepository
	ledger     ports.EscrowLedger
	lock       ports.SchedulerLock // optional
	pool       *ants.Pool
	cfg        SchedulerConfig
	nowFn      func() time.Time
	log        zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewAutoReleaseScheduler creates a scheduler with its worker pool. lock may be nil.
func NewAutoReleaseScheduler(
	escrowRepo ports.EscrowRepository,
	ledger ports.EscrowLedger,
	lock ports.SchedulerLock,
	cfg SchedulerConfig,
	log zerolog.Logger,
) (*AutoReleaseScheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 4 * time.Minute
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create release pool: %w", err)
	}

	return &AutoReleaseScheduler{
		escrowRepo: escrowRepo,
		ledger:     ledger,
		lock:       lock,
		pool:       pool,
		cfg:        cfg,
		nowFn:      func() time.Time { return time.Now().UTC() },
		log:        log,
	}, nil
}

// WithClock replaces the time source used to find due records.
func (s *AutoReleaseScheduler) WithClock(now func() time.Time) *AutoReleaseScheduler {
	s.nowFn = now
	return s
}

// Start runs Tick on the configured schedule until Stop. A tick still running
// when the next one is due causes the next one to be skipped.
func (s *AutoReleaseScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		tickCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
		defer cancel()
		if _, err := s.Tick(tickCtx); err != nil {
			s.log.Error().Err(err).Msg("auto-release tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.cfg.Schedule, err)
	}

	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", s.cfg.Schedule).Int("workers", s.cfg.Workers).Msg("auto-release scheduler started")
	return nil
}

// Stop waits for a running tick to finish, or for ctx, and releases the pool.
func (s *AutoReleaseScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn().Msg("auto-release scheduler stop timed out")
		}
	}
	s.pool.Release()
	s.log.Info().Msg("auto-release scheduler stopped")
}

// Tick scans one batch of due records and releases them on the worker pool.
// Records that fail stay held and are picked up again by a later tick.
func (s *AutoReleaseScheduler) Tick(ctx context.Context) (*TickReport, error) {
	start := time.Now()
	report := &TickReport{}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("scheduler lock unavailable, scanning without it")
		case !acquired:
			report.Locked = true
			metrics.RecordSchedulerTick("locked", 0, time.Since(start))
			s.log.Debug().Msg("auto-release tick skipped, another instance holds the lock")
			return report, nil
		default:
			defer func() {
				if err := s.lock.Release(context.WithoutCancel(ctx), schedulerLockName); err != nil {
					s.log.Warn().Err(err).Msg("failed to release scheduler lock")
				}
			}()
		}
	}

	ids, err := s.escrowRepo.ListDueForRelease(ctx, s.nowFn(), s.cfg.BatchSize)
	if err != nil {
		metrics.RecordSchedulerTick("error", 0, time.Since(start))
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list due escrows: %w", err))
	}
	report.Scanned = len(ids)

	var released, skipped, failed atomic.Int64
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			switch s.releaseOne(ctx, id) {
			case releaseApplied:
				released.Add(1)
			case releaseSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			s.log.Error().Err(err).Str("escrow_id", id.String()).Msg("failed to submit release")
		}
	}
	wg.Wait()

	report.Released = int(released.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())

	result := "ok"
	if report.Failed > 0 {
		result = "partial"
	}
	metrics.RecordSchedulerTick(result, report.Released, time.Since(start))

	if report.Scanned > 0 {
		s.log.Info().
			Int("scanned", report.Scanned).
			Int("released", report.Released).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Dur("elapsed", time.Since(start)).
			Msg("auto-release tick complete")
	}
	return report, nil
}

type releaseOutcome int

const (
	releaseApplied releaseOutcome = iota
	releaseSkipped
	releaseFailed
)

func (s *AutoReleaseScheduler) releaseOne(ctx context.Context, id uuid.UUID) releaseOutcome {
	result, err := s.ledger.Release(ctx, id, domain.SystemActor)
	if err != nil {
		// Disputed or no longer due since the scan: not a failure.
		if apperror.Code(err) == apperror.CodeInvalidTransition {
			s.log.Debug().Err(err).Str("escrow_id", id.String()).Msg("auto-release skipped")
			return releaseSkipped
		}
		s.log.Error().Err(err).Str("escrow_id", id.String()).Msg("auto-release failed")
		return releaseFailed
	}
	if !result.Applied {
		return releaseSkipped
	}
	return releaseApplied
}
