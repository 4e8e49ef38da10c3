package service

import (
	"context"
	"fmt"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type accountService struct {
	accountRepo ports.AccountRepository
	log         zerolog.Logger
}

// NewAccountService creates a new account management service.
func NewAccountService(accountRepo ports.AccountRepository, log zerolog.Logger) ports.AccountService {
	return &accountService{
		accountRepo: accountRepo,
		log:         log,
	}
}

// Open provisions an account. The opening balance is the only way credit enters the system.
func (s *accountService) Open(ctx context.Context, userID uuid.UUID, openingBalance int64) (*domain.Account, error) {
	if userID == uuid.Nil {
		return nil, apperror.Validation("user_id is required")
	}
	if openingBalance < 0 {
		return nil, apperror.Validation("opening balance cannot be negative")
	}

	existing, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("get account: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrAlreadyExists("Account")
	}

	now := time.Now().UTC()
	account := &domain.Account{
		UserID:    userID,
		Balance:   openingBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("create account: %w", err))
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Int64("opening_balance", openingBalance).
		Msg("account opened")

	return account, nil
}

func (s *accountService) Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("Account")
	}
	return account, nil
}
