package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minigames-backend/internal/games/plinko"
	"minigames-backend/internal/games/slots"
	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
)

type drawnTable struct {
	username string
	plays    int
}

type DrawnJoined struct {
	SessionID string          `json:"sessionId"`
	Balance   decimal.Decimal `json:"balance"`
	Username  string          `json:"username,omitempty"`
}

type PlinkoOutcome struct {
	plinko.Result
	NewBalance        decimal.Decimal `json:"finalBalance"`
	SettlementPending bool            `json:"settlementPending,omitempty"`
}

type SlotsOutcome struct {
	slots.Result
	NewBalance        decimal.Decimal `json:"newBalance"`
	SettlementPending bool            `json:"settlementPending,omitempty"`
}

// DrawnService runs the single-shot games. Each play debits the bet, draws
// the outcome, then credits any win.
type DrawnService struct {
	settler *Settler
	plinko  *Registry[*drawnTable]
	slots   *Registry[*drawnTable]
	limits  models.BetLimits
	src     rng.Source
	log     *zap.Logger
}

func NewDrawnService(settler *Settler, limits models.BetLimits, src rng.Source, log *zap.Logger) *DrawnService {
	return &DrawnService{
		settler: settler,
		plinko:  NewRegistry[*drawnTable](models.GameTypePlinko),
		slots:   NewRegistry[*drawnTable](models.GameTypeSlots),
		limits:  limits,
		src:     src,
		log:     log,
	}
}

func (s *DrawnService) registry(game models.GameType) (*Registry[*drawnTable], error) {
	switch game {
	case models.GameTypePlinko:
		return s.plinko, nil
	case models.GameTypeSlots:
		return s.slots, nil
	}
	return nil, validationErr(fmt.Errorf("%s is not a drawn game", game))
}

func (s *DrawnService) Join(ctx context.Context, game models.GameType, userID, username, connID string) (DrawnJoined, error) {
	reg, err := s.registry(game)
	if err != nil {
		return DrawnJoined{}, err
	}
	bal, err := s.settler.Balance(ctx, userID)
	if err != nil {
		return DrawnJoined{}, err
	}
	e, _ := reg.Replace(userID, connID, &drawnTable{username: username})
	return DrawnJoined{SessionID: e.ID(), Balance: bal, Username: username}, nil
}

// play serializes one draw on the user's table: debit, draw, credit.
func (s *DrawnService) play(ctx context.Context, game models.GameType, userID string, bet decimal.Decimal, draw func() (decimal.Decimal, string, error)) (decimal.Decimal, bool, error) {
	reg, err := s.registry(game)
	if err != nil {
		return decimal.Zero, false, err
	}
	if err := models.ValidateAmount(bet, s.limits); err != nil {
		return decimal.Zero, false, validationErr(err)
	}
	e, err := reg.Acquire(userID)
	if err != nil {
		return decimal.Zero, false, err
	}
	defer e.Unlock()

	bal, err := s.settler.Debit(ctx, userID, game, bet, fmt.Sprintf("%s bet", title(game)))
	if err != nil {
		return decimal.Zero, false, err
	}
	e.State.plays++

	payout, desc, err := draw()
	if err != nil {
		// Refund a stake whose draw failed.
		credit := s.settler.Credit(ctx, userID, game, models.EntryKindRefund, bet, fmt.Sprintf("%s bet refunded", title(game)))
		return credit.BalanceOr(bal), credit.Pending, err
	}

	log := s.log.With(zap.String("user_id", userID), zap.String("game", string(game)), zap.String("session_id", e.ID()))
	if !payout.IsPositive() {
		log.Debug("play lost", zap.String("amount", bet.String()))
		return bal, false, nil
	}
	credit := s.settler.Credit(ctx, userID, game, models.EntryKindPayout, payout, desc)
	log.Info("play won", zap.String("amount", payout.String()), zap.Bool("settlement_pending", credit.Pending))
	return credit.BalanceOr(bal), credit.Pending, nil
}

func (s *DrawnService) PlayPlinko(ctx context.Context, userID string, bet decimal.Decimal) (PlinkoOutcome, error) {
	var res plinko.Result
	bal, pending, err := s.play(ctx, models.GameTypePlinko, userID, bet, func() (decimal.Decimal, string, error) {
		var err error
		res, err = plinko.Play(bet, s.src)
		return res.Payout, fmt.Sprintf("Plinko win (%sx)", res.Multiplier), err
	})
	if err != nil {
		return PlinkoOutcome{}, err
	}
	return PlinkoOutcome{Result: res, NewBalance: bal, SettlementPending: pending}, nil
}

func (s *DrawnService) Spin(ctx context.Context, userID string, bet decimal.Decimal) (SlotsOutcome, error) {
	var res slots.Result
	bal, pending, err := s.play(ctx, models.GameTypeSlots, userID, bet, func() (decimal.Decimal, string, error) {
		var err error
		res, err = slots.Spin(bet, s.src)
		return res.TotalWin, fmt.Sprintf("Slots win (%d lines, %d scatters)", len(res.WinLines), res.ScatterCount), err
	})
	if err != nil {
		return SlotsOutcome{}, err
	}
	return SlotsOutcome{Result: res, NewBalance: bal, SettlementPending: pending}, nil
}

func (s *DrawnService) Leave(userID, connID string) {
	s.plinko.Detach(userID, connID)
	s.slots.Detach(userID, connID)
}

func (s *DrawnService) Sweep(idle time.Duration) int {
	return len(s.plinko.Sweep(idle)) + len(s.slots.Sweep(idle))
}

func (s *DrawnService) Sessions(userID string) []models.SessionInfo {
	return append(s.plinko.Sessions(userID), s.slots.Sessions(userID)...)
}

func title(game models.GameType) string {
	switch game {
	case models.GameTypePlinko:
		return "Plinko"
	case models.GameTypeSlots:
		return "Slots"
	}
	return string(game)
}
