package services

import "time"

const (
	KeyWallet         = "wallet:%s"
	KeyLedgerEntry    = "ledger:entry:%s"
	KeyUserLedger     = "user:%s:ledger"
	KeyAppliedDelta   = "ledger:applied:%s"
	KeyPendingCredits = "ledger:pending"
	KeyRateLimit      = "ratelimit:%s:%s"

	TTLLedgerEntry  = 30 * 24 * time.Hour // 30 days
	TTLAppliedDelta = 7 * 24 * time.Hour  // 7 days

	RateLimitWindow = time.Minute

	// Attempts at the optimistic balance transaction before giving up.
	MaxWalletTxRetries = 10
)
