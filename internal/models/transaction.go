package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindWager  EntryKind = "wager"
	EntryKindRefund EntryKind = "refund"
	EntryKindPayout EntryKind = "payout"
)

// Delta is one requested balance movement. Key makes the movement
// idempotent: a ledger applies a given key at most once.
type Delta struct {
	Key         string          `json:"key"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        EntryKind       `json:"kind"`
	Game        GameType        `json:"game"`
	Description string          `json:"description"`
}

type LedgerEntry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Kind          EntryKind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Game          GameType        `json:"game,omitempty"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}
