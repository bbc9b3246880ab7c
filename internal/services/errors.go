package services

import (
	"errors"
	"fmt"

	"minigames-backend/internal/games/blackjack"
	"minigames-backend/internal/games/crash"
	"minigames-backend/internal/games/plinko"
	"minigames-backend/internal/games/slots"
)

type ErrorCode string

const (
	CodeValidation  ErrorCode = "validation"
	CodeSession     ErrorCode = "session"
	CodeLedger      ErrorCode = "ledger"
	CodeRateLimited ErrorCode = "rate_limited"
	CodeInternal    ErrorCode = "internal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoSession         = errors.New("no active session")
	ErrStaleSession      = errors.New("session expired")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnknownAction     = errors.New("unknown action")
	ErrBadPayload        = errors.New("malformed payload")
)

// GameError is the only error type the channel reports to a client.
type GameError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *GameError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *GameError) Unwrap() error {
	return e.Err
}

func validationErr(err error) *GameError {
	return &GameError{Code: CodeValidation, Message: err.Error(), Err: err}
}

func sessionErr(err error) *GameError {
	return &GameError{Code: CodeSession, Message: err.Error(), Err: err}
}

// ledgerErr wraps a failed balance read or write. A refused debit is the
// player's problem, not the ledger's.
func ledgerErr(op string, err error) *GameError {
	if errors.Is(err, ErrInsufficientFunds) {
		return validationErr(err)
	}
	return &GameError{Code: CodeLedger, Message: op + " failed", Err: err}
}

var validationSentinels = []error{
	ErrInsufficientFunds,
	ErrUnknownAction,
	ErrBadPayload,
	blackjack.ErrInvalidAction,
	blackjack.ErrInsufficientFunds,
	blackjack.ErrInvalidAmount,
	blackjack.ErrNoBet,
	blackjack.ErrCannotDouble,
	blackjack.ErrCannotSplit,
	blackjack.ErrBadHandIndex,
	crash.ErrNotPending,
	crash.ErrNotRunning,
	crash.ErrAlreadyCashedOut,
	crash.ErrCrashed,
	crash.ErrInvalidMultiplier,
	plinko.ErrInvalidBet,
	slots.ErrInvalidBet,
	slots.ErrUnknownSymbol,
}

// Classify maps any error returned by a service onto a GameError.
func Classify(err error) *GameError {
	if err == nil {
		return nil
	}
	var ge *GameError
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrStaleSession):
		return sessionErr(err)
	case errors.Is(err, ErrRateLimited):
		return &GameError{Code: CodeRateLimited, Message: err.Error(), Err: err}
	}
	for _, s := range validationSentinels {
		if errors.Is(err, s) {
			return validationErr(err)
		}
	}
	return &GameError{Code: CodeInternal, Message: "internal error", Err: err}
}
