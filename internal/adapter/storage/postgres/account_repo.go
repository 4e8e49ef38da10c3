package postgres

import (
	"context"
	"errors"
	"fmt"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Create inserts a new account with its opening balance.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (user_id, balance, created_at, updated_at) VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, a.UserID, a.Balance, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByUserID fetches an account without locking.
func (r *AccountRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `SELECT user_id, balance, created_at, updated_at FROM accounts WHERE user_id = $1`

	return scanAccount(r.pool.QueryRow(ctx, query, userID))
}

// GetByUserIDForUpdate fetches an account with pessimistic locking.
// This MUST be called within a transaction.
func (r *AccountRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Account, error) {
	query := `SELECT user_id, balance, created_at, updated_at FROM accounts WHERE user_id = $1 FOR UPDATE`

	return scanAccount(tx.QueryRow(ctx, query, userID))
}

// Debit subtracts amount, refusing to take the balance below zero.
func (r *AccountRepo) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	query := `UPDATE accounts SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1`

	tag, err := tx.Exec(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// Credit adds amount to the account.
func (r *AccountRepo) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	query := `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2`

	tag, err := tx.Exec(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found: %s", userID)
	}
	return nil
}

// TotalBalance sums every account balance.
func (r *AccountRepo) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum balances: %w", err)
	}
	return total, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.UserID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}
