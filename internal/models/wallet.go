package models

import "github.com/shopspring/decimal"

type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// PendingCredit is a payout that could not be applied after retries and is
// waiting for reconciliation.
type PendingCredit struct {
	Delta    Delta  `json:"delta"`
	Attempts int    `json:"attempts"`
	LastErr  string `json:"last_error"`
}
