package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minigames-backend/internal/games/crash"
	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
)

var ErrRoundInProgress = errors.New("a round is already in progress")

// crashTable is the per-user state of the multiplier game: the open round,
// the connection that hears its crash, and the timer that ends it.
type crashTable struct {
	username string
	round    *crash.Round
	out      Emitter
	timer    *time.Timer
	unbind   func() bool
	// balance is the last ledger balance this table saw.
	balance decimal.Decimal
}

func (t *crashTable) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.unbind != nil {
		t.unbind()
		t.unbind = nil
	}
}

type crashEntry = Entry[*crashTable]

type CrashJoined struct {
	SessionID string          `json:"sessionId"`
	Balance   decimal.Decimal `json:"balance"`
	Username  string          `json:"username,omitempty"`
}

type CrashBet struct {
	RoundID    string          `json:"roundId"`
	Bet        decimal.Decimal `json:"bet"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type CrashStarted struct {
	RoundID   string `json:"roundId"`
	Observer  bool   `json:"observer"`
	StartTime int64  `json:"startTime"`
}

type CrashCrashed struct {
	RoundID    string          `json:"roundId"`
	CrashPoint decimal.Decimal `json:"crashPoint"`
}

type CrashCashout struct {
	RoundID    string          `json:"roundId"`
	Multiplier decimal.Decimal `json:"multiplier"`
	// CurveMultiplier is the server's curve value when the claim arrived.
	CurveMultiplier   decimal.Decimal `json:"curveMultiplier"`
	Winnings          decimal.Decimal `json:"winnings"`
	NewBalance        decimal.Decimal `json:"newBalance"`
	SettlementPending bool            `json:"settlementPending,omitempty"`
}

type CrashService struct {
	settler  *Settler
	sessions *Registry[*crashTable]
	limits   models.BetLimits
	src      rng.Source
	now      func() time.Time
	log      *zap.Logger
}

func NewCrashService(settler *Settler, limits models.BetLimits, src rng.Source, log *zap.Logger) *CrashService {
	return &CrashService{
		settler:  settler,
		sessions: NewRegistry[*crashTable](models.GameTypeCrash),
		limits:   limits,
		src:      src,
		now:      time.Now,
		log:      log.With(zap.String("game", string(models.GameTypeCrash))),
	}
}

func (s *CrashService) Sessions() *Registry[*crashTable] {
	return s.sessions
}

func (s *CrashService) Join(ctx context.Context, userID, username, connID string, out Emitter) (CrashJoined, error) {
	bal, err := s.settler.Balance(ctx, userID)
	if err != nil {
		return CrashJoined{}, err
	}
	e, old := s.sessions.Replace(userID, connID, &crashTable{username: username, out: emitterOrDiscard(out), balance: bal})
	if old != nil {
		s.discard(old, "replaced")
	}
	return CrashJoined{SessionID: e.ID(), Balance: bal, Username: username}, nil
}

// PlaceBet debits the stake and opens a pending round.
func (s *CrashService) PlaceBet(ctx context.Context, userID string, amount decimal.Decimal) (CrashBet, error) {
	if err := models.ValidateAmount(amount, s.limits); err != nil {
		return CrashBet{}, validationErr(err)
	}
	e, err := s.sessions.Acquire(userID)
	if err != nil {
		return CrashBet{}, err
	}
	defer e.Unlock()

	if r := e.State.round; r != nil && !r.State().Terminal() {
		return CrashBet{}, validationErr(ErrRoundInProgress)
	}
	bal, err := s.settler.Debit(ctx, userID, models.GameTypeCrash, amount, "Crash bet")
	if err != nil {
		return CrashBet{}, err
	}
	r := crash.NewRound(models.GenerateSessionID(models.GameTypeCrash), amount)
	e.State.round = r
	e.State.balance = bal
	e.SetStatus(string(r.State()))

	s.log.Info("bet placed", zap.String("user_id", userID), zap.String("round_id", r.ID()), zap.String("amount", amount.String()))
	return CrashBet{RoundID: r.ID(), Bet: amount, NewBalance: bal}, nil
}

// CancelBet refunds a round that has not started.
func (s *CrashService) CancelBet(ctx context.Context, userID string) (CrashBet, error) {
	e, err := s.sessions.Acquire(userID)
	if err != nil {
		return CrashBet{}, err
	}
	defer e.Unlock()

	r := e.State.round
	if r == nil {
		return CrashBet{}, validationErr(crash.ErrNotRunning)
	}
	refund, err := r.Cancel()
	if err != nil {
		return CrashBet{}, err
	}
	e.State.round = nil
	e.SetStatus(string(crash.StateCancelled))

	credit := s.settler.Credit(ctx, userID, models.GameTypeCrash, models.EntryKindRefund, refund, "Crash bet cancelled")
	e.State.balance = credit.BalanceOr(e.State.balance)
	return CrashBet{RoundID: r.ID(), Bet: refund, NewBalance: e.State.balance}, nil
}

// Start fixes the crash point and arms the crash timer. Without a placed
// bet it runs a zero-stake observer round.
func (s *CrashService) Start(_ context.Context, userID string, out Emitter) (CrashStarted, error) {
	e, err := s.sessions.Acquire(userID)
	if err != nil {
		return CrashStarted{}, err
	}
	defer e.Unlock()

	t := e.State
	if out != nil {
		t.out = out
	}
	if t.round == nil || t.round.State().Terminal() {
		t.round = crash.NewRound(models.GenerateSessionID(models.GameTypeCrash), decimal.Zero)
	}
	r := t.round
	now := s.now()
	delay, err := r.Start(crash.SampleCrashPoint(s.src), now)
	if err != nil {
		return CrashStarted{}, err
	}

	t.timer = time.AfterFunc(delay, func() { s.fire(e, r) })
	timer := t.timer
	t.unbind = context.AfterFunc(e.Context(), func() { timer.Stop() })
	e.SetStatus(string(r.State()))

	s.log.Debug("round started", zap.String("user_id", userID), zap.String("round_id", r.ID()), zap.Duration("crash_in", delay))
	return CrashStarted{RoundID: r.ID(), Observer: r.Observer(), StartTime: r.StartedAt().UnixMilli()}, nil
}

// fire is the crash timer. It is a no-op unless the entry is still live
// and r is still its running round.
func (s *CrashService) fire(e *crashEntry, r *crash.Round) {
	e.Lock()
	defer e.Unlock()

	if !e.Alive() || e.State.round != r || !r.Crash(s.now()) {
		return
	}
	cp, _ := r.CrashPoint()
	e.State.round = nil
	e.State.timer = nil
	if e.State.unbind != nil {
		e.State.unbind()
		e.State.unbind = nil
	}
	e.SetStatus(string(crash.StateCrashed))

	e.State.out.Emit(models.Message{
		Type: models.MsgCrashCrashed,
		Game: models.GameTypeCrash,
		Data: CrashCrashed{RoundID: r.ID(), CrashPoint: cp},
	})
	s.log.Info("round crashed",
		zap.String("user_id", e.UserID()),
		zap.String("round_id", r.ID()),
		zap.String("crash_point", cp.String()),
		zap.String("forfeited", r.Bet().String()),
		zap.Duration("lasted", r.EndedAt().Sub(r.StartedAt())),
	)
}

// Cashout settles the running round at the claimed multiplier if it is
// below the crash point.
func (s *CrashService) Cashout(ctx context.Context, userID string, claimed decimal.Decimal) (CrashCashout, error) {
	e, err := s.sessions.Acquire(userID)
	if err != nil {
		return CrashCashout{}, err
	}
	defer e.Unlock()

	r := e.State.round
	if r == nil {
		return CrashCashout{}, validationErr(crash.ErrNotRunning)
	}
	now := s.now()
	curve := r.CurrentMultiplier(now)
	winnings, err := r.Cashout(claimed, now)
	if err != nil {
		return CrashCashout{}, err
	}
	e.State.stopTimer()
	e.State.round = nil
	e.SetStatus(string(crash.StateCashedOut))

	res := CrashCashout{RoundID: r.ID(), Multiplier: claimed, CurveMultiplier: curve, Winnings: winnings}
	if r.Observer() {
		res.NewBalance, err = s.settler.Balance(ctx, userID)
		return res, err
	}
	credit := s.settler.Credit(ctx, userID, models.GameTypeCrash, models.EntryKindPayout, winnings,
		fmt.Sprintf("Crash win (%sx)", models.FormatAmount(claimed)))
	e.State.balance = credit.BalanceOr(e.State.balance)
	res.NewBalance = e.State.balance
	res.SettlementPending = credit.Pending

	s.log.Info("cashed out",
		zap.String("user_id", userID),
		zap.String("round_id", r.ID()),
		zap.String("multiplier", claimed.String()),
		zap.String("curve", curve.String()),
		zap.String("amount", winnings.String()),
	)
	return res, nil
}

// Leave drops the user's table if connID still owns it. A bet that never
// started is refunded; a running round is forfeited.
func (s *CrashService) Leave(userID, connID string) {
	if e := s.sessions.Detach(userID, connID); e != nil {
		s.discard(e, "disconnected")
	}
}

func (s *CrashService) Sweep(idle time.Duration) int {
	stale := s.sessions.Sweep(idle)
	for _, e := range stale {
		s.discard(e, "idle")
	}
	return len(stale)
}

// discard settles an entry the registry has already let go of.
func (s *CrashService) discard(e *crashEntry, reason string) {
	e.Lock()
	defer e.Unlock()

	t := e.State
	t.stopTimer()
	r := t.round
	t.round = nil
	if r == nil {
		return
	}

	fields := []zap.Field{
		zap.String("user_id", e.UserID()),
		zap.String("round_id", r.ID()),
		zap.String("reason", reason),
		zap.String("amount", r.Bet().String()),
	}
	switch r.State() {
	case crash.StatePending:
		refund, err := r.Cancel()
		if err != nil || !refund.IsPositive() {
			return
		}
		s.settler.Credit(context.Background(), e.UserID(), models.GameTypeCrash, models.EntryKindRefund, refund, "Crash bet refunded on disconnect")
		s.log.Info("pending bet refunded", fields...)
	case crash.StateRunning:
		s.log.Info("running round forfeited", fields...)
	}
}
