package crash

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCashedOut State = "cashed_out"
	StateCrashed   State = "crashed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCashedOut, StateCrashed, StateCancelled:
		return true
	}
	return false
}

var (
	ErrNotPending        = errors.New("round already started")
	ErrNotRunning        = errors.New("round not running")
	ErrAlreadyCashedOut  = errors.New("already cashed out")
	ErrCrashed           = errors.New("crash occurred before cashout")
	ErrInvalidMultiplier = errors.New("invalid cashout multiplier")
)

// Round is one bet on the growing multiplier. Exactly one of Cashout, Crash
// or Cancel ends it. Round is not safe for concurrent use; the owning
// session serializes access.
type Round struct {
	id         string
	bet        decimal.Decimal
	crashPoint decimal.Decimal
	state      State
	startedAt  time.Time
	endedAt    time.Time
	cashedAt   decimal.Decimal
}

// NewRound opens a pending round. A zero bet is an observer round: it runs
// and crashes like any other but moves no money.
func NewRound(id string, bet decimal.Decimal) *Round {
	return &Round{id: id, bet: bet, state: StatePending}
}

func (r *Round) ID() string { return r.id }
func (r *Round) Bet() decimal.Decimal { return r.bet }
func (r *Round) State() State { return r.state }
func (r *Round) StartedAt() time.Time { return r.startedAt }
func (r *Round) EndedAt() time.Time { return r.endedAt }
func (r *Round) Observer() bool { return r.bet.IsZero() }

// CrashPoint is hidden until the round has crashed.
func (r *Round) CrashPoint() (decimal.Decimal, bool) {
	if r.state != StateCrashed {
		return decimal.Zero, false
	}
	return r.crashPoint, true
}

// Start fixes the crash point and returns the delay after which Crash must
// fire.
func (r *Round) Start(crashPoint decimal.Decimal, now time.Time) (time.Duration, error) {
	if r.state != StatePending {
		return 0, fmt.Errorf("%w: %s", ErrNotPending, r.state)
	}
	if crashPoint.LessThan(MinMultiplier) {
		crashPoint = MinMultiplier
	}
	r.crashPoint = crashPoint
	r.startedAt = now
	r.state = StateRunning
	return CrashDelay(crashPoint), nil
}

// Cancel withdraws a bet that has not started and returns the refund.
func (r *Round) Cancel() (decimal.Decimal, error) {
	if r.state != StatePending {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotPending, r.state)
	}
	r.state = StateCancelled
	return r.bet, nil
}

// Cashout settles the round at the claimed multiplier. The claim is checked
// against the server-held crash point only; it is accepted iff the round is
// running, not yet cashed out, and claimed < crash point.
func (r *Round) Cashout(claimed decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	switch r.state {
	case StateRunning:
	case StateCashedOut:
		return decimal.Zero, ErrAlreadyCashedOut
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotRunning, r.state)
	}
	if claimed.LessThan(MinMultiplier) {
		return decimal.Zero, ErrInvalidMultiplier
	}
	if claimed.GreaterThanOrEqual(r.crashPoint) {
		return decimal.Zero, ErrCrashed
	}
	r.state = StateCashedOut
	r.cashedAt = claimed
	r.endedAt = now
	return models.CalculatePayout(r.bet, claimed), nil
}

// Crash ends a running round. It reports false when the round already
// ended, which makes a late timer a no-op.
func (r *Round) Crash(now time.Time) bool {
	if r.state != StateRunning {
		return false
	}
	r.state = StateCrashed
	r.endedAt = now
	return true
}

// CurrentMultiplier is the curve value at now, capped below the crash point
// while the round runs.
func (r *Round) CurrentMultiplier(now time.Time) decimal.Decimal {
	switch r.state {
	case StatePending, StateCancelled:
		return MinMultiplier
	case StateCashedOut:
		return r.cashedAt
	case StateCrashed:
		return r.crashPoint
	}
	m := decimal.NewFromFloat(Multiplier(now.Sub(r.startedAt))).Truncate(2)
	if m.GreaterThanOrEqual(r.crashPoint) {
		return r.crashPoint
	}
	return m
}
