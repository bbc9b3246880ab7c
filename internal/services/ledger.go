package services

import (
	"context"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
)

//go:generate mockgen -destination=mocks/ledger_mock.go -package=mocks minigames-backend/internal/services Ledger

// Ledger is the balance-and-log gateway every game settles through.
//
// ApplyDelta must be atomic against the stored balance at the time of the
// call and must apply a given delta Key at most once; a repeated key returns
// the current balance without moving money. A debit that would take the
// balance below zero fails with ErrInsufficientFunds.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	ApplyDelta(ctx context.Context, d models.Delta) (decimal.Decimal, error)
	History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// PendingQueue holds credits waiting for reconciliation.
type PendingQueue interface {
	PushPending(ctx context.Context, pc models.PendingCredit) error
	// PopPending returns nil, nil when the queue is empty.
	PopPending(ctx context.Context) (*models.PendingCredit, error)
}

// RateLimiter is a fixed-window counter per user and action.
type RateLimiter interface {
	Allow(ctx context.Context, userID, action string, limit int) (bool, error)
}

const (
	MaxHistory     = 100
	DefaultHistory = 50
)

func clampHistory(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return DefaultHistory
	}
	return limit
}
