package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"minigames-backend/internal/games/blackjack"
	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
	"minigames-backend/internal/services"
	"minigames-backend/internal/services/mocks"
)

var testLimits = models.BetLimits{Min: dec(0.1), Max: dec(500)}

// recorder collects every frame a service pushes.
type recorder struct {
	mu     sync.Mutex
	frames []models.Message
}

func (r *recorder) Emit(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
}

func (r *recorder) Frames() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.frames...)
}

// stacked deals ranks in order: player, dealer up, player, dealer hole, then
// every later draw.
func stacked(ranks ...string) func() blackjack.Deck {
	return func() blackjack.Deck {
		cards := make([]models.Card, len(ranks))
		for i, r := range ranks {
			cards[i] = models.Card{Suit: models.Hearts, Rank: r}
		}
		return rng.NewStackedShoe(rng.NewSeeded(7), cards...)
	}
}

type BlackjackServiceSuite struct {
	suite.Suite
	ctx    context.Context
	ledger *services.MemoryLedger
}

func TestBlackjackServiceSuite(t *testing.T) {
	suite.Run(t, new(BlackjackServiceSuite))
}

func (s *BlackjackServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = services.NewMemoryLedger(dec(1000))
}

func (s *BlackjackServiceSuite) service(deck func() blackjack.Deck) *services.BlackjackService {
	return s.paced(deck, services.Pacing{})
}

func (s *BlackjackServiceSuite) paced(deck func() blackjack.Deck, pacing services.Pacing) *services.BlackjackService {
	settler := newSettler(s.ledger, s.ledger)
	return services.NewBlackjackService(settler, testLimits, pacing, deck, zap.NewNop())
}

func (s *BlackjackServiceSuite) ledgerIs(want float64) func() bool {
	return func() bool {
		bal, err := s.ledger.GetBalance(s.ctx, "u1")
		return err == nil && bal.Equal(dec(want))
	}
}

func (s *BlackjackServiceSuite) requireLedger(want float64) {
	bal, err := s.ledger.GetBalance(s.ctx, "u1")
	s.Require().NoError(err)
	s.True(bal.Equal(dec(want)), "ledger %s, want %v", bal, want)
}

func (s *BlackjackServiceSuite) seat(svc *services.BlackjackService, bet float64) {
	view, err := svc.Join(s.ctx, "u1", "alice", "c1")
	s.Require().NoError(err)
	s.Equal(blackjack.PhaseBetting, view.Phase)
	s.NotEmpty(view.SessionID)

	view, err = svc.AddBet(s.ctx, "u1", dec(bet))
	s.Require().NoError(err)
	s.True(view.CurrentBet.Equal(dec(bet)))
	s.requireLedger(1000)
}

func (s *BlackjackServiceSuite) TestNaturalSettlesDuringDeal() {
	svc := s.service(stacked("K", "9", "A", "7"))
	s.seat(svc, 10)

	out := &recorder{}
	view, err := svc.Deal(s.ctx, "u1", out)
	s.Require().NoError(err)

	s.Equal(blackjack.PhaseResolved, view.Phase)
	s.Require().NotNil(view.Settlement)
	s.Equal(blackjack.ResultWin, view.Settlement.Outcome)
	s.True(view.Balance.Equal(dec(1015)))
	s.requireLedger(1015)

	frames := out.Frames()
	s.GreaterOrEqual(len(frames), 5)
	for _, f := range frames {
		s.Equal(models.MsgUpdate, f.Type)
		s.Equal(models.GameTypeBlackjack, f.Game)
	}

	history, _ := s.ledger.History(s.ctx, "u1", 10)
	s.Require().Len(history, 2)
	s.Equal(models.EntryKindPayout, history[0].Kind)
	s.Equal(models.EntryKindWager, history[1].Kind)
}

func (s *BlackjackServiceSuite) TestBustCreditsZeroReturn() {
	svc := s.service(stacked("10", "9", "6", "7", "K"))
	s.seat(svc, 10)

	view, err := svc.Deal(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.Equal(blackjack.PhasePlayerTurn, view.Phase)
	s.requireLedger(990)

	view, err = svc.Hit(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.Equal(blackjack.PhaseResolved, view.Phase)
	s.Equal(16, view.DealerScore)
	s.requireLedger(990)
}

func (s *BlackjackServiceSuite) TestDoubleDebitsSecondStake() {
	svc := s.service(stacked("6", "9", "5", "7", "K", "2"))
	s.seat(svc, 20)

	_, err := svc.Deal(s.ctx, "u1", nil)
	s.Require().NoError(err)

	view, err := svc.Double(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.Equal(blackjack.PhaseResolved, view.Phase)
	// 21 against a dealer who draws 16 -> 18.
	s.Equal(blackjack.ResultWin, view.Settlement.Outcome)
	s.requireLedger(1040)
}

func (s *BlackjackServiceSuite) TestSplitDebitsSecondStake() {
	svc := s.service(stacked("8", "9", "8", "7", "3", "10", "K"))
	s.seat(svc, 10)

	view, err := svc.Deal(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.True(view.CanSplit)
	s.requireLedger(990)

	view, err = svc.Split(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.Len(view.PlayerHands, 2)
	s.requireLedger(980)

	for _, want := range []int{11, 18} {
		view, err = svc.Hit(s.ctx, "u1", nil)
		s.Require().NoError(err)
		s.Equal(want, view.PlayerScores[view.ActiveHandIndex])
		view, err = svc.Stand(s.ctx, "u1", nil)
		s.Require().NoError(err)
	}

	// The dealer's 16 draws a king and busts; both hands win.
	s.Equal(blackjack.PhaseResolved, view.Phase)
	s.Require().NotNil(view.Settlement)
	s.Len(view.Settlement.Hands, 2)
	s.True(view.Settlement.TotalStaked.Equal(dec(20)))
	s.requireLedger(1020)

	history, _ := s.ledger.History(s.ctx, "u1", 10)
	s.Require().Len(history, 3)
	s.Equal(models.EntryKindPayout, history[0].Kind)
	s.True(history[0].Amount.Equal(dec(40)))
	s.True(history[1].Amount.Equal(dec(-10)))
	s.True(history[2].Amount.Equal(dec(-10)))
}

func (s *BlackjackServiceSuite) TestConcurrentBetsAllLand() {
	svc := s.service(stacked())
	_, err := svc.Join(s.ctx, "u1", "", "c1")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddBet(s.ctx, "u1", dec(1))
			s.NoError(err)
		}()
	}
	wg.Wait()

	e, ok := svc.Sessions().Get("u1")
	s.Require().True(ok)
	e.Lock()
	defer e.Unlock()
	s.True(e.State.CurrentBet().Equal(dec(20)), "bet %s", e.State.CurrentBet())
}

func (s *BlackjackServiceSuite) TestPacedDealDoesNotHoldTheTable() {
	svc := s.paced(stacked("K", "9", "A", "7"), services.Pacing{Deal: 20 * time.Millisecond, Dealer: 20 * time.Millisecond, Natural: 20 * time.Millisecond})
	s.seat(svc, 10)

	out := &recorder{}
	view, err := svc.Deal(s.ctx, "u1", out)
	s.Require().NoError(err)
	s.Equal(blackjack.PhaseDealing, view.Phase)

	// The table is free between cards; moves are refused by phase.
	_, err = svc.Hit(s.ctx, "u1", nil)
	s.ErrorIs(err, blackjack.ErrInvalidAction)

	s.Eventually(s.ledgerIs(1015), 2*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool {
		frames := out.Frames()
		last, ok := frames[len(frames)-1].Data.(services.BlackjackView)
		return ok && last.Phase == blackjack.PhaseResolved
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *BlackjackServiceSuite) TestLeaveMidDealStillSettles() {
	svc := s.paced(stacked("K", "9", "A", "7"), services.Pacing{Deal: time.Hour, Dealer: time.Hour, Natural: time.Hour})
	s.seat(svc, 10)

	out := &recorder{}
	_, err := svc.Deal(s.ctx, "u1", out)
	s.Require().NoError(err)
	sent := len(out.Frames())
	s.requireLedger(990)

	svc.Leave("u1", "c1")
	s.Eventually(s.ledgerIs(1015), 2*time.Second, 10*time.Millisecond)
	s.Len(out.Frames(), sent)
}

func (s *BlackjackServiceSuite) TestInsurancePaysAgainstDealerNatural() {
	svc := s.service(stacked("10", "A", "9", "K"))
	s.seat(svc, 10)

	view, err := svc.Deal(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.True(view.ShowInsurance)
	s.requireLedger(990)

	view, err = svc.TakeInsurance(s.ctx, "u1", true, nil)
	s.Require().NoError(err)
	s.Equal(blackjack.PhaseResolved, view.Phase)
	s.Equal(blackjack.ResultLose, view.Settlement.Outcome)
	s.requireLedger(1000)
}

func (s *BlackjackServiceSuite) TestBetLimitsApplyToTheTotal() {
	svc := s.service(stacked())
	_, err := svc.Join(s.ctx, "u1", "", "c1")
	s.Require().NoError(err)

	_, err = svc.AddBet(s.ctx, "u1", dec(400))
	s.Require().NoError(err)
	_, err = svc.AddBet(s.ctx, "u1", dec(200))
	s.Equal(services.CodeValidation, services.Classify(err).Code)

	_, err = svc.AddBet(s.ctx, "u1", dec(-1))
	s.Equal(services.CodeValidation, services.Classify(err).Code)

	view, err := svc.ClearBet(s.ctx, "u1")
	s.Require().NoError(err)
	s.True(view.CurrentBet.IsZero())
}

func (s *BlackjackServiceSuite) TestResetOnlyBetweenRounds() {
	svc := s.service(stacked("10", "9", "6", "7"))
	s.seat(svc, 10)
	_, err := svc.Deal(s.ctx, "u1", nil)
	s.Require().NoError(err)

	_, err = svc.Reset(s.ctx, "u1")
	s.ErrorIs(err, blackjack.ErrInvalidAction)

	_, err = svc.Stand(s.ctx, "u1", nil)
	s.Require().NoError(err)

	view, err := svc.Reset(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(blackjack.PhaseBetting, view.Phase)
	s.Empty(view.DealerHand)
	s.Nil(view.Settlement)
	// The dealer's draws come from the shuffled remainder.
	bal, _ := s.ledger.GetBalance(s.ctx, "u1")
	s.True(view.Balance.Equal(bal))
}

func (s *BlackjackServiceSuite) TestActionsNeedASession() {
	svc := s.service(stacked())
	_, err := svc.Hit(s.ctx, "u1", nil)
	s.Equal(services.CodeSession, services.Classify(err).Code)

	_, err = svc.Join(s.ctx, "u1", "", "c1")
	s.Require().NoError(err)
	_, err = svc.Stand(s.ctx, "u1", nil)
	s.ErrorIs(err, blackjack.ErrInvalidAction)
	s.Equal(services.CodeValidation, services.Classify(err).Code)

	svc.Leave("u1", "other-conn")
	s.Equal(1, svc.Sessions().Len())
	svc.Leave("u1", "c1")
	_, err = svc.AddBet(s.ctx, "u1", dec(1))
	s.ErrorIs(err, services.ErrNoSession)
}

func TestBlackjackDealFailureLeavesTableUntouched(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().GetBalance(gomock.Any(), "u1").Return(dec(100), nil)
	ledger.EXPECT().ApplyDelta(gomock.Any(), gomock.Any()).Return(decimal.Zero, errLedgerDown)

	svc := services.NewBlackjackService(newSettler(ledger, services.NewMemoryLedger(decimal.Zero)),
		testLimits, services.Pacing{}, stacked("K", "9", "A", "7"), zap.NewNop())

	_, err := svc.Join(ctx, "u1", "", "c1")
	require.NoError(t, err)
	_, err = svc.AddBet(ctx, "u1", dec(10))
	require.NoError(t, err)

	_, err = svc.Deal(ctx, "u1", nil)
	require.Error(t, err)
	assert.Equal(t, services.CodeLedger, services.Classify(err).Code)

	e, ok := svc.Sessions().Get("u1")
	require.True(t, ok)
	assert.Equal(t, blackjack.PhaseBetting, e.State.Phase())
	assert.True(t, e.State.CurrentBet().Equal(dec(10)))
	assert.True(t, e.State.Balance().Equal(dec(100)))
}
