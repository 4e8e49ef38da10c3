package service

import (
	"context"
	"fmt"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var activeStatuses = []domain.EscrowStatus{domain.EscrowStatusHeld, domain.EscrowStatusDisputed}

// reportingService implements ports.ReportingService.
type reportingService struct {
	escrowRepo  ports.EscrowRepository
	accountRepo ports.AccountRepository
	inbox       ports.NotificationInbox
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	escrowRepo ports.EscrowRepository,
	accountRepo ports.AccountRepository,
	inbox ports.NotificationInbox,
) ports.ReportingService {
	return &reportingService{
		escrowRepo:  escrowRepo,
		accountRepo: accountRepo,
		inbox:       inbox,
	}
}

// ListActiveEscrows returns held and disputed records, newest first.
func (s *reportingService) ListActiveEscrows(ctx context.Context, limit, offset int) ([]domain.EscrowRecord, error) {
	limit, offset = normalizePage(limit, offset)
	escrows, err := s.escrowRepo.List(ctx, ports.EscrowListParams{
		Statuses: activeStatuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list active escrows: %w", err))
	}
	return escrows, nil
}

// ListPartyEscrows returns every record where userID is client or freelancer.
func (s *reportingService) ListPartyEscrows(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.EscrowRecord, error) {
	limit, offset = normalizePage(limit, offset)
	escrows, err := s.escrowRepo.List(ctx, ports.EscrowListParams{
		PartyID: &userID,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list party escrows: %w", err))
	}
	return escrows, nil
}

// GetStats aggregates open escrows, open disputes and account balances.
func (s *reportingService) GetStats(ctx context.Context) (*domain.EscrowStats, error) {
	stats, err := s.escrowRepo.Stats(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("escrow stats: %w", err))
	}
	total, err := s.accountRepo.TotalBalance(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("total balance: %w", err))
	}
	stats.CreditsInAccounts = total
	return stats, nil
}

// ListNotifications returns the caller's inbox.
func (s *reportingService) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	if s.inbox == nil {
		return []domain.Notification{}, nil
	}
	limit, _ = normalizePage(limit, 0)
	items, err := s.inbox.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list notifications: %w", err))
	}
	return items, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
