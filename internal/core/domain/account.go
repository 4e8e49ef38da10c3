package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Account holds a user's spendable time-credits. Balance is in hundredths of an hour
// and never negative.
type Account struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanCover reports whether the account can fund a hold of amount.
func (a *Account) CanCover(amount int64) bool {
	return amount > 0 && a.Balance >= amount
}

// ErrInsufficientBalance is returned by a BalanceStore debit that would go negative.
var ErrInsufficientBalance = errors.New("insufficient balance")
