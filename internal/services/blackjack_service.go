package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minigames-backend/internal/games/blackjack"
	"minigames-backend/internal/models"
)

// Pacing spaces out the frames of a deal and of the dealer's turn. Zero
// values disable the pauses.
type Pacing struct {
	Deal    time.Duration
	Dealer  time.Duration
	Natural time.Duration
}

// step is one paced move of a deal or of the dealer's turn. It runs with
// the entry locked and returns the pause before next. A nil next ends the
// sequence.
type step func() (pause time.Duration, next step)

// blackjackTable is a seat at the card table. pending records whether the
// last settlement was queued instead of applied.
type blackjackTable struct {
	*blackjack.Game
	pending bool
}

type BlackjackView struct {
	blackjack.Snapshot
	SessionID         string `json:"sessionId"`
	SettlementPending bool   `json:"settlementPending,omitempty"`
}

type blackjackEntry = Entry[*blackjackTable]

type BlackjackService struct {
	settler  *Settler
	sessions *Registry[*blackjackTable]
	limits   models.BetLimits
	pacing   Pacing
	newDeck  func() blackjack.Deck
	log      *zap.Logger
}

func NewBlackjackService(settler *Settler, limits models.BetLimits, pacing Pacing, newDeck func() blackjack.Deck, log *zap.Logger) *BlackjackService {
	return &BlackjackService{
		settler:  settler,
		sessions: NewRegistry[*blackjackTable](models.GameTypeBlackjack),
		limits:   limits,
		pacing:   pacing,
		newDeck:  newDeck,
		log:      log.With(zap.String("game", string(models.GameTypeBlackjack))),
	}
}

func (s *BlackjackService) Sessions() *Registry[*blackjackTable] {
	return s.sessions
}

// Join seats the player at a fresh table with a new shoe, discarding any
// previous table of theirs.
func (s *BlackjackService) Join(ctx context.Context, userID, username, connID string) (BlackjackView, error) {
	bal, err := s.settler.Balance(ctx, userID)
	if err != nil {
		return BlackjackView{}, err
	}
	g := blackjack.New(s.newDeck(), bal)
	g.SetUsername(username)

	e, old := s.sessions.Replace(userID, connID, &blackjackTable{Game: g})
	e.SetStatus(string(g.Phase()))
	if old != nil {
		s.log.Info("session replaced", zap.String("user_id", userID), zap.String("session_id", old.ID()))
	}
	return s.view(e, false), nil
}

func (s *BlackjackService) AddBet(ctx context.Context, userID string, amount decimal.Decimal) (BlackjackView, error) {
	return s.act(ctx, userID, nil, func(e *blackjackEntry) (bool, error) {
		total := e.State.CurrentBet().Add(amount)
		if e.State.Phase() == blackjack.PhaseResolved {
			total = amount
		}
		if !amount.IsPositive() {
			return false, validationErr(blackjack.ErrInvalidAmount)
		}
		if err := models.ValidateAmount(total, s.limits); err != nil {
			return false, validationErr(err)
		}
		return false, e.State.AddBet(amount)
	})
}

// Reset clears the table for a new round and refreshes the balance from the
// ledger. A round with stakes on the table cannot be reset.
func (s *BlackjackService) Reset(ctx context.Context, userID string) (BlackjackView, error) {
	return s.act(ctx, userID, nil, func(e *blackjackEntry) (bool, error) {
		if err := e.State.StartBetting(); err != nil {
			return false, err
		}
		bal, err := s.settler.Balance(ctx, userID)
		if err != nil {
			return false, err
		}
		e.State.SyncBalance(bal)
		return false, nil
	})
}

func (s *BlackjackService) ClearBet(ctx context.Context, userID string) (BlackjackView, error) {
	return s.act(ctx, userID, nil, func(e *blackjackEntry) (bool, error) {
		return false, e.State.ClearBet()
	})
}

// Deal debits the reserved bet and deals the opening cards, one frame per
// card. A natural that needs no insurance decision runs the dealer's turn
// straight away. With pacing enabled Deal returns after the first card and
// the rest of the sequence follows on timers.
func (s *BlackjackService) Deal(ctx context.Context, userID string, out Emitter) (BlackjackView, error) {
	return s.act(ctx, userID, out, func(e *blackjackEntry) (bool, error) {
		g := e.State
		if err := s.commit(ctx, e, "Blackjack bet", g.DealStake, g.Deal); err != nil {
			return false, err
		}
		g.pending = false
		s.play(e, s.dealCard(context.WithoutCancel(ctx), e, out, 0))
		return g.pending, nil
	})
}

func (s *BlackjackService) Hit(ctx context.Context, userID string, out Emitter) (BlackjackView, error) {
	return s.act(ctx, userID, out, func(e *blackjackEntry) (bool, error) {
		if err := e.State.Hit(); err != nil {
			return false, err
		}
		return s.maybeFinish(ctx, e, out), nil
	})
}

func (s *BlackjackService) Stand(ctx context.Context, userID string, out Emitter) (BlackjackView, error) {
	return s.act(ctx, userID, out, func(e *blackjackEntry) (bool, error) {
		if err := e.State.Stand(); err != nil {
			return false, err
		}
		return s.maybeFinish(ctx, e, out), nil
	})
}

func (s *BlackjackService) Double(ctx context.Context, userID string, out Emitter) (BlackjackView, error) {
	return s.act(ctx, userID, out, func(e *blackjackEntry) (bool, error) {
		if err := s.commit(ctx, e, "Blackjack double", e.State.DoubleStake, e.State.Double); err != nil {
			return false, err
		}
		return s.maybeFinish(ctx, e, out), nil
	})
}

func (s *BlackjackService) Split(ctx context.Context, userID string, out Emitter) (BlackjackView, error) {
	return s.act(ctx, userID, out, func(e *blackjackEntry) (bool, error) {
		return false, s.commit(ctx, e, "Blackjack split", e.State.SplitStake, e.State.Split)
	})
}

// TakeInsurance answers the insurance offer. The stake is debited first; an
// insurance win is credited as soon as the dealer's natural shows.
func (s *BlackjackService) TakeInsurance(ctx context.Context, userID string, wants bool, out Emitter) (BlackjackView, error) {
	return s.act(ctx, userID, out, func(e *blackjackEntry) (bool, error) {
		g := e.State
		stake, err := g.InsuranceStake(wants)
		if err != nil {
			return false, err
		}
		if stake.IsPositive() {
			bal, err := s.settler.Debit(ctx, userID, models.GameTypeBlackjack, stake, "Blackjack insurance")
			if err != nil {
				return false, err
			}
			g.SyncBalance(bal.Add(stake))
		}

		payout, err := g.TakeInsurance(wants)
		if err != nil {
			return false, err
		}
		pending := false
		if payout.IsPositive() {
			credit := s.settler.Credit(ctx, userID, models.GameTypeBlackjack, models.EntryKindPayout, payout,
				"Blackjack insurance pays "+models.FormatAmount(payout))
			if credit.Known {
				g.SyncBalance(credit.Balance)
			}
			pending = credit.Pending
		}
		return s.maybeFinish(ctx, e, out) || pending, nil
	})
}

// Leave drops the user's table if connID still owns it. Stakes already on
// the table are forfeited.
func (s *BlackjackService) Leave(userID, connID string) {
	if e := s.sessions.Detach(userID, connID); e != nil {
		s.log.Info("session closed", zap.String("user_id", userID), zap.String("session_id", e.ID()))
	}
}

func (s *BlackjackService) Sweep(idle time.Duration) int {
	stale := s.sessions.Sweep(idle)
	for _, e := range stale {
		s.log.Info("idle session discarded",
			zap.String("user_id", e.UserID()),
			zap.String("session_id", e.ID()),
			zap.String("conn_id", e.ConnID()),
		)
	}
	return len(stale)
}

// act runs fn with the user's table locked. fn reports whether a credit was
// queued instead of applied.
func (s *BlackjackService) act(ctx context.Context, userID string, out Emitter, fn func(e *blackjackEntry) (bool, error)) (BlackjackView, error) {
	e, err := s.sessions.Acquire(userID)
	if err != nil {
		return BlackjackView{}, err
	}
	defer e.Unlock()

	pending, err := fn(e)
	if err != nil {
		return BlackjackView{}, err
	}
	e.SetStatus(string(e.State.Phase()))
	return s.view(e, pending), nil
}

// commit validates a stake, debits it, then applies the engine move that
// spends it.
func (s *BlackjackService) commit(ctx context.Context, e *blackjackEntry, description string, stakeFn func() (decimal.Decimal, error), apply func() error) error {
	stake, err := stakeFn()
	if err != nil {
		return err
	}
	bal, err := s.settler.Debit(ctx, e.UserID(), models.GameTypeBlackjack, stake, description+" "+models.FormatAmount(stake))
	if err != nil {
		return err
	}
	e.State.SyncBalance(bal.Add(stake))
	return apply()
}

func (s *BlackjackService) maybeFinish(ctx context.Context, e *blackjackEntry, out Emitter) bool {
	if e.State.Phase() != blackjack.PhaseDealerTurn {
		return false
	}
	s.emit(e, out)
	e.State.pending = false
	s.play(e, s.revealHole(context.WithoutCancel(ctx), e, out))
	return e.State.pending
}

// play runs a paced sequence with the entry locked by the caller. Steps run
// inline until one asks for a pause; the rest resumes on a timer that takes
// the lock again. Once the entry is discarded the remaining steps run at
// once, so a round with stakes on the table always settles; only the frames
// stop.
func (s *BlackjackService) play(e *blackjackEntry, st step) {
	for st != nil {
		pause, next := st()
		if next == nil {
			return
		}
		if pause > 0 && e.Alive() {
			s.schedule(e, pause, next)
			return
		}
		st = next
	}
}

func (s *BlackjackService) schedule(e *blackjackEntry, pause time.Duration, next step) {
	var (
		once   sync.Once
		unbind func() bool
		timer  *time.Timer
	)
	// The caller holds the entry lock, so resume cannot run before timer
	// and unbind are set.
	resume := func() {
		once.Do(func() {
			e.Lock()
			defer e.Unlock()
			unbind()
			s.play(e, next)
			e.SetStatus(string(e.State.Phase()))
		})
	}
	timer = time.AfterFunc(pause, resume)
	unbind = context.AfterFunc(e.Context(), func() {
		if timer.Stop() {
			resume()
		}
	})
}

var openingDeal = []struct {
	dealer, hidden bool
}{
	{dealer: false},
	{dealer: true},
	{dealer: false},
	{dealer: true, hidden: true},
}

// dealCard deals the i-th opening card, then checks the opening hands.
func (s *BlackjackService) dealCard(ctx context.Context, e *blackjackEntry, out Emitter, i int) step {
	return func() (time.Duration, step) {
		g := e.State
		var err error
		if c := openingDeal[i]; c.dealer {
			err = g.DealCardToDealer(c.hidden)
		} else {
			err = g.DealCardToPlayer(0)
		}
		if err != nil {
			s.log.Error("deal out of phase", zap.String("user_id", e.UserID()), zap.Error(err))
			return 0, nil
		}
		s.emit(e, out)
		if i+1 < len(openingDeal) {
			return s.pacing.Deal, s.dealCard(ctx, e, out, i+1)
		}
		return s.pacing.Deal, s.checkInitial(ctx, e, out)
	}
}

func (s *BlackjackService) checkInitial(ctx context.Context, e *blackjackEntry, out Emitter) step {
	return func() (time.Duration, step) {
		g := e.State
		if err := g.CheckInitial(); err != nil {
			s.log.Error("initial check out of phase", zap.String("user_id", e.UserID()), zap.Error(err))
			return 0, nil
		}
		s.emit(e, out)
		if g.Phase() != blackjack.PhaseDealerTurn {
			return 0, nil
		}
		return s.pacing.Natural, s.revealHole(ctx, e, out)
	}
}

func (s *BlackjackService) revealHole(ctx context.Context, e *blackjackEntry, out Emitter) step {
	return func() (time.Duration, step) {
		if err := e.State.RevealHole(); err != nil {
			s.log.Error("dealer turn out of phase", zap.String("user_id", e.UserID()), zap.Error(err))
			return 0, nil
		}
		s.emit(e, out)
		return s.pacing.Dealer, s.dealerDraw(ctx, e, out)
	}
}

func (s *BlackjackService) dealerDraw(ctx context.Context, e *blackjackEntry, out Emitter) step {
	return func() (time.Duration, step) {
		g := e.State
		if !g.DealerNeedsCard() {
			s.settle(ctx, e, out)
			return 0, nil
		}
		if err := g.DealerDraw(); err != nil {
			s.settle(ctx, e, out)
			return 0, nil
		}
		s.emit(e, out)
		return s.pacing.Dealer, s.dealerDraw(ctx, e, out)
	}
}

// settle resolves the round and credits the total return.
func (s *BlackjackService) settle(ctx context.Context, e *blackjackEntry, out Emitter) {
	g := e.State
	st, err := g.Resolve()
	if err != nil {
		s.log.Error("resolve failed", zap.String("user_id", e.UserID()), zap.Error(err))
		return
	}

	desc := fmt.Sprintf("Blackjack %s: staked %s, returned %s, net %s", st.Outcome, st.TotalStaked, st.TotalReturn, st.Net)
	credit := s.settler.Credit(ctx, e.UserID(), models.GameTypeBlackjack, models.EntryKindPayout, st.TotalReturn, desc)
	if credit.Known {
		g.SyncBalance(credit.Balance)
	}
	g.pending = credit.Pending
	s.emitView(e, out, credit.Pending)

	s.log.Info("round resolved",
		zap.String("user_id", e.UserID()),
		zap.String("session_id", e.ID()),
		zap.String("outcome", string(st.Outcome)),
		zap.String("staked", st.TotalStaked.String()),
		zap.String("returned", st.TotalReturn.String()),
		zap.Bool("settlement_pending", credit.Pending),
	)
}

func (s *BlackjackService) emit(e *blackjackEntry, out Emitter) {
	s.emitView(e, out, false)
}

func (s *BlackjackService) emitView(e *blackjackEntry, out Emitter, pending bool) {
	if out == nil || !e.Alive() {
		return
	}
	out.Emit(models.Message{Type: models.MsgUpdate, Game: models.GameTypeBlackjack, Data: s.view(e, pending)})
}

func (s *BlackjackService) view(e *blackjackEntry, pending bool) BlackjackView {
	return BlackjackView{Snapshot: e.State.Snapshot(), SessionID: e.ID(), SettlementPending: pending}
}
