package blackjack

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
)

type Phase string

const (
	PhaseBetting    Phase = "betting"
	PhaseDealing    Phase = "dealing"
	PhaseInsurance  Phase = "insurance"
	PhasePlayerTurn Phase = "player_turn"
	PhaseDealerTurn Phase = "dealer_turn"
	PhaseResolved   Phase = "resolved"
)

const DealerStandsOn = 17

var (
	ErrInvalidAction     = errors.New("action not allowed in current phase")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid bet amount")
	ErrNoBet             = errors.New("no bet placed")
	ErrCannotDouble      = errors.New("hand cannot be doubled")
	ErrCannotSplit       = errors.New("hand cannot be split")
	ErrBadHandIndex      = errors.New("hand index out of range")
)

var (
	two         = decimal.NewFromInt(2)
	three       = decimal.NewFromInt(3)
	naturalPays = decimal.NewFromFloat(2.5)
)

// Deck is the card source of a game. *rng.Shoe satisfies it.
type Deck interface {
	Draw() models.Card
}

// Game is one player's seat at the card table. It holds a snapshot of the
// player's ledger balance; callers move money in the ledger first and keep
// the snapshot in step with SyncBalance.
type Game struct {
	deck       Deck
	phase      Phase
	dealer     []models.Card
	holeHidden bool
	hands      []*Hand
	active     int
	currentBet decimal.Decimal
	insurance  decimal.Decimal
	balance    decimal.Decimal
	message    string
	username   string
	settled    *Settlement
}

func New(deck Deck, balance decimal.Decimal) *Game {
	g := &Game{deck: deck, balance: balance}
	g.reset()
	return g
}

func (g *Game) reset() {
	g.phase = PhaseBetting
	g.dealer = nil
	g.holeHidden = false
	g.hands = []*Hand{{Status: StatusPlaying}}
	g.active = 0
	g.currentBet = decimal.Zero
	g.insurance = decimal.Zero
	g.settled = nil
	g.message = "Place your bet"
}

func (g *Game) Phase() Phase { return g.phase }
func (g *Game) Balance() decimal.Decimal { return g.balance }
func (g *Game) CurrentBet() decimal.Decimal { return g.currentBet }
func (g *Game) InsuranceBet() decimal.Decimal { return g.insurance }
func (g *Game) ActiveHandIndex() int { return g.active }
func (g *Game) DealerCards() []models.Card { return append([]models.Card(nil), g.dealer...) }
func (g *Game) Message() string { return g.message }

func (g *Game) Hands() []Hand {
	out := make([]Hand, len(g.hands))
	for i, h := range g.hands {
		out[i] = *h
		out[i].Cards = append([]models.Card(nil), h.Cards...)
	}
	return out
}

func (g *Game) SetUsername(name string) {
	g.username = name
}

// SyncBalance replaces the balance snapshot with the ledger's value.
func (g *Game) SyncBalance(balance decimal.Decimal) {
	g.balance = balance
}

// available is the snapshot minus the bet reserved but not yet debited.
func (g *Game) available() decimal.Decimal {
	if g.phase == PhaseBetting {
		return g.balance.Sub(g.currentBet)
	}
	return g.balance
}

func (g *Game) require(phases ...Phase) error {
	for _, p := range phases {
		if g.phase == p {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidAction, g.phase)
}

// StartBetting opens a new betting round, discarding the last round's cards.
func (g *Game) StartBetting() error {
	if err := g.require(PhaseBetting, PhaseResolved); err != nil {
		return err
	}
	g.reset()
	return nil
}

// AddBet reserves amount against the balance snapshot. A resolved round is
// cleared first.
func (g *Game) AddBet(amount decimal.Decimal) error {
	if g.phase == PhaseResolved {
		g.reset()
	}
	if err := g.require(PhaseBetting); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if g.available().LessThan(amount) {
		return ErrInsufficientFunds
	}
	g.currentBet = g.currentBet.Add(amount)
	g.message = "Bet added"
	return nil
}

func (g *Game) ClearBet() error {
	if err := g.require(PhaseBetting); err != nil {
		return err
	}
	g.currentBet = decimal.Zero
	g.message = "Place your bet"
	return nil
}

// DealStake validates that a round can be dealt and returns the stake that
// must be debited before Deal.
func (g *Game) DealStake() (decimal.Decimal, error) {
	if err := g.require(PhaseBetting); err != nil {
		return decimal.Zero, err
	}
	if !g.currentBet.IsPositive() {
		return decimal.Zero, ErrNoBet
	}
	if g.balance.LessThan(g.currentBet) {
		return decimal.Zero, ErrInsufficientFunds
	}
	return g.currentBet, nil
}

// Deal commits the reserved bet and moves the round to dealing.
func (g *Game) Deal() error {
	stake, err := g.DealStake()
	if err != nil {
		return err
	}
	g.balance = g.balance.Sub(stake)
	g.dealer = nil
	g.holeHidden = false
	g.hands = []*Hand{{Bet: stake, Status: StatusPlaying}}
	g.active = 0
	g.insurance = decimal.Zero
	g.phase = PhaseDealing
	g.message = "Dealing..."
	return nil
}

func (g *Game) DealCardToPlayer(handIndex int) error {
	if err := g.require(PhaseDealing); err != nil {
		return err
	}
	if handIndex < 0 || handIndex >= len(g.hands) {
		return ErrBadHandIndex
	}
	g.hands[handIndex].Cards = append(g.hands[handIndex].Cards, g.deck.Draw())
	return nil
}

func (g *Game) DealCardToDealer(hidden bool) error {
	if err := g.require(PhaseDealing); err != nil {
		return err
	}
	g.dealer = append(g.dealer, g.deck.Draw())
	if hidden {
		g.holeHidden = true
	}
	return nil
}

// DealInitial deals player, dealer up, player, dealer hole and runs
// CheckInitial, for callers that do not pace the deal.
func (g *Game) DealInitial() error {
	steps := []func() error{
		func() error { return g.DealCardToPlayer(0) },
		func() error { return g.DealCardToDealer(false) },
		func() error { return g.DealCardToPlayer(0) },
		func() error { return g.DealCardToDealer(true) },
		g.CheckInitial,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// CheckInitial inspects the dealt cards: it marks a natural, offers
// insurance against a dealer ace, and otherwise opens the player turn.
func (g *Game) CheckInitial() error {
	if err := g.require(PhaseDealing); err != nil {
		return err
	}
	if len(g.dealer) < 2 || len(g.hands[0].Cards) < 2 {
		return fmt.Errorf("%w: initial cards not dealt", ErrInvalidAction)
	}

	natural := Natural(g.hands[0].Cards)
	if natural {
		g.hands[0].Status = StatusBlackjack
		g.message = "Blackjack!"
	}

	if g.dealer[0].IsAce() && g.balance.GreaterThanOrEqual(g.insuranceCost()) {
		g.phase = PhaseInsurance
		if natural {
			g.message = "Blackjack! Insurance?"
		} else {
			g.message = "Insurance?"
		}
		return nil
	}

	if natural {
		g.phase = PhaseDealerTurn
		return nil
	}
	g.startPlayerTurn()
	return nil
}

// insuranceCost is half the bet, rounded to cents.
func (g *Game) insuranceCost() decimal.Decimal {
	return g.currentBet.Div(two).Round(2)
}

// InsuranceStake returns the amount to debit before TakeInsurance(wants).
func (g *Game) InsuranceStake(wants bool) (decimal.Decimal, error) {
	if err := g.require(PhaseInsurance); err != nil {
		return decimal.Zero, err
	}
	if !wants {
		return decimal.Zero, nil
	}
	cost := g.insuranceCost()
	if g.balance.LessThan(cost) {
		return decimal.Zero, ErrInsufficientFunds
	}
	return cost, nil
}

// TakeInsurance answers the insurance offer. The dealer's hand is checked
// for a natural at once; the returned amount is the insurance payout (three
// times the stake) owed to the player, zero otherwise.
func (g *Game) TakeInsurance(wants bool) (decimal.Decimal, error) {
	cost, err := g.InsuranceStake(wants)
	if err != nil {
		return decimal.Zero, err
	}
	if wants {
		g.insurance = cost
		g.balance = g.balance.Sub(cost)
		g.message = "Insurance placed"
	} else {
		g.message = "Insurance declined"
	}

	if Natural(g.dealer) {
		payout := decimal.Zero
		if g.insurance.IsPositive() {
			payout = models.CalculatePayout(g.insurance, three)
			g.balance = g.balance.Add(payout)
			g.message = "Insurance pays!"
		}
		g.phase = PhaseDealerTurn
		return payout, nil
	}

	if g.insurance.IsPositive() {
		g.message = "Dealer has no blackjack. Insurance lost."
	}
	if g.hands[0].Status == StatusBlackjack {
		g.phase = PhaseDealerTurn
		g.message = "Blackjack!"
		return decimal.Zero, nil
	}
	g.startPlayerTurn()
	return decimal.Zero, nil
}

func (g *Game) startPlayerTurn() {
	g.phase = PhasePlayerTurn
	g.message = fmt.Sprintf("Your turn. Hand %d", g.active+1)
}

func (g *Game) activeHand() (*Hand, error) {
	if err := g.require(PhasePlayerTurn); err != nil {
		return nil, err
	}
	h := g.hands[g.active]
	if h.Status != StatusPlaying {
		return nil, fmt.Errorf("%w: hand %d is %s", ErrInvalidAction, g.active, h.Status)
	}
	return h, nil
}

func (g *Game) Hit() error {
	h, err := g.activeHand()
	if err != nil {
		return err
	}
	h.Cards = append(h.Cards, g.deck.Draw())
	switch score := h.Score(); {
	case score > 21:
		h.Status = StatusBusted
		g.message = "Bust!"
		g.nextHand()
	case score == 21:
		g.message = "21! Hit again or stand"
	}
	return nil
}

func (g *Game) Stand() error {
	h, err := g.activeHand()
	if err != nil {
		return err
	}
	h.Status = StatusStood
	g.nextHand()
	return nil
}

func (g *Game) canDouble(h *Hand) bool {
	return len(h.Cards) == 2 && h.Score() < 21
}

func (g *Game) canSplit(h *Hand) bool {
	return h.pair() && h.Score() < 21
}

// DoubleStake returns the additional stake Double will commit.
func (g *Game) DoubleStake() (decimal.Decimal, error) {
	h, err := g.activeHand()
	if err != nil {
		return decimal.Zero, err
	}
	if !g.canDouble(h) {
		return decimal.Zero, ErrCannotDouble
	}
	if g.balance.LessThan(h.Bet) {
		return decimal.Zero, ErrInsufficientFunds
	}
	return h.Bet, nil
}

// Double doubles the active hand's bet, draws exactly one card and ends the
// hand.
func (g *Game) Double() error {
	stake, err := g.DoubleStake()
	if err != nil {
		return err
	}
	h := g.hands[g.active]
	g.balance = g.balance.Sub(stake)
	h.Bet = h.Bet.Add(stake)
	h.Cards = append(h.Cards, g.deck.Draw())
	if h.Score() > 21 {
		h.Status = StatusBusted
		g.message = "Bust!"
	} else {
		h.Status = StatusStood
	}
	g.nextHand()
	return nil
}

// SplitStake returns the stake the new hand will carry.
func (g *Game) SplitStake() (decimal.Decimal, error) {
	h, err := g.activeHand()
	if err != nil {
		return decimal.Zero, err
	}
	if !g.canSplit(h) {
		return decimal.Zero, ErrCannotSplit
	}
	if g.balance.LessThan(h.Bet) {
		return decimal.Zero, ErrInsufficientFunds
	}
	return h.Bet, nil
}

// Split moves the active hand's second card into a new hand with an equal
// bet. The new hand is played after every existing hand.
func (g *Game) Split() error {
	stake, err := g.SplitStake()
	if err != nil {
		return err
	}
	h := g.hands[g.active]
	moved := h.Cards[1]
	h.Cards = h.Cards[:1:1]
	g.hands = append(g.hands, &Hand{
		Cards:  []models.Card{moved},
		Bet:    stake,
		Status: StatusPlaying,
	})
	g.balance = g.balance.Sub(stake)
	g.message = fmt.Sprintf("Split into %d hands", len(g.hands))
	return nil
}

func (g *Game) nextHand() {
	if g.active < len(g.hands)-1 {
		g.active++
		g.startPlayerTurn()
		return
	}
	g.phase = PhaseDealerTurn
	g.message = "Dealer's turn"
}

func (g *Game) anyBlackjack() bool {
	for _, h := range g.hands {
		if h.Status == StatusBlackjack {
			return true
		}
	}
	return false
}

func (g *Game) allBusted() bool {
	for _, h := range g.hands {
		if h.Status != StatusBusted {
			return false
		}
	}
	return true
}

// RevealHole turns the dealer's hidden card face up.
func (g *Game) RevealHole() error {
	if err := g.require(PhaseDealerTurn); err != nil {
		return err
	}
	g.holeHidden = false
	g.message = "Dealer reveals..."
	return nil
}

// DealerNeedsCard reports whether the dealer must draw. A dealer facing a
// player natural, or only busted hands, just reveals.
func (g *Game) DealerNeedsCard() bool {
	if g.phase != PhaseDealerTurn || g.anyBlackjack() || g.allBusted() {
		return false
	}
	return Score(g.dealer) < DealerStandsOn
}

func (g *Game) DealerDraw() error {
	if err := g.require(PhaseDealerTurn); err != nil {
		return err
	}
	if !g.DealerNeedsCard() {
		return fmt.Errorf("%w: dealer stands", ErrInvalidAction)
	}
	g.holeHidden = false
	g.dealer = append(g.dealer, g.deck.Draw())
	g.message = fmt.Sprintf("Dealer draws: %d", Score(g.dealer))
	return nil
}

type HandSettlement struct {
	Bet    decimal.Decimal `json:"bet"`
	Score  int             `json:"score"`
	Result HandResult      `json:"result"`
	Return decimal.Decimal `json:"return"`
}

type Settlement struct {
	Hands       []HandSettlement `json:"hands"`
	DealerScore int              `json:"dealer_score"`
	TotalStaked decimal.Decimal  `json:"total_staked"`
	TotalReturn decimal.Decimal  `json:"total_return"`
	Net         decimal.Decimal  `json:"net"`
	Outcome     HandResult       `json:"outcome"`
}

// Resolve finishes the dealer's hand and settles every player hand against
// it. The total return is added to the balance snapshot; the caller credits
// the same amount in the ledger.
func (g *Game) Resolve() (Settlement, error) {
	if err := g.require(PhaseDealerTurn); err != nil {
		return Settlement{}, err
	}
	g.holeHidden = false
	for g.DealerNeedsCard() {
		g.dealer = append(g.dealer, g.deck.Draw())
	}

	dScore := Score(g.dealer)
	dNatural := Natural(g.dealer)
	s := Settlement{
		DealerScore: dScore,
		TotalStaked: decimal.Zero,
		TotalReturn: decimal.Zero,
		Outcome:     ResultLose,
	}

	for _, h := range g.hands {
		pScore := h.Score()
		switch {
		case h.Status == StatusBusted:
			h.Result, h.Return = ResultBust, decimal.Zero
		case h.Status == StatusBlackjack && dNatural:
			h.Result, h.Return = ResultPush, h.Bet
		case h.Status == StatusBlackjack:
			h.Result, h.Return = ResultBlackjack, models.CalculatePayout(h.Bet, naturalPays)
		case dScore > 21 || pScore > dScore:
			h.Result, h.Return = ResultWin, models.CalculatePayout(h.Bet, two)
		case pScore == dScore:
			h.Result, h.Return = ResultPush, h.Bet
		default:
			h.Result, h.Return = ResultLose, decimal.Zero
		}

		switch h.Result {
		case ResultWin, ResultBlackjack:
			s.Outcome = ResultWin
		case ResultPush:
			if s.Outcome != ResultWin {
				s.Outcome = ResultPush
			}
		}

		s.TotalStaked = s.TotalStaked.Add(h.Bet)
		s.TotalReturn = s.TotalReturn.Add(h.Return)
		s.Hands = append(s.Hands, HandSettlement{Bet: h.Bet, Score: pScore, Result: h.Result, Return: h.Return})
	}
	s.Net = s.TotalReturn.Sub(s.TotalStaked)

	g.balance = g.balance.Add(s.TotalReturn)
	g.phase = PhaseResolved
	g.settled = &s
	g.message = "Round resolved"
	return s, nil
}

// Snapshot is the client view of the table. The hole card stays masked
// until the dealer's turn reveals it.
type Snapshot struct {
	Phase           Phase               `json:"phase"`
	DealerHand      []models.CardView   `json:"dealerHand"`
	PlayerHands     [][]models.CardView `json:"playerHands"`
	HandBets        []decimal.Decimal   `json:"handBets"`
	HandStatus      []HandStatus        `json:"handStatus"`
	HandResults     []HandResult        `json:"handResults"`
	ActiveHandIndex int                 `json:"activeHandIndex"`
	InsuranceBet    decimal.Decimal     `json:"insuranceBet"`
	Balance         decimal.Decimal     `json:"balance"`
	CurrentBet      decimal.Decimal     `json:"currentBet"`
	Message         string              `json:"message"`
	DealerScore     int                 `json:"dealerScore"`
	PlayerScores    []int               `json:"playerScores"`
	PlayerSoft      []bool              `json:"playerSoft"`
	ShowInsurance   bool                `json:"showInsurance"`
	CanDouble       bool                `json:"canDouble"`
	CanSplit        bool                `json:"canSplit"`
	Username        string              `json:"username,omitempty"`
	Settlement      *Settlement         `json:"settlement,omitempty"`
}

func (g *Game) Snapshot() Snapshot {
	s := Snapshot{
		Phase:           g.phase,
		ActiveHandIndex: g.active,
		InsuranceBet:    g.insurance,
		Balance:         g.available(),
		CurrentBet:      g.currentBet,
		Message:         g.message,
		ShowInsurance:   g.phase == PhaseInsurance,
		Username:        g.username,
		Settlement:      g.settled,
	}

	s.DealerHand = views(g.dealer)
	if g.holeHidden && len(g.dealer) > 1 {
		s.DealerHand[1] = models.HiddenCard()
	}
	switch {
	case len(g.dealer) == 0:
	case g.holeHidden:
		s.DealerScore = g.dealer[0].Value()
	default:
		s.DealerScore = Score(g.dealer)
	}

	for _, h := range g.hands {
		s.PlayerHands = append(s.PlayerHands, views(h.Cards))
		s.HandBets = append(s.HandBets, h.Bet)
		s.HandStatus = append(s.HandStatus, h.Status)
		s.HandResults = append(s.HandResults, h.Result)
		s.PlayerScores = append(s.PlayerScores, h.Score())
		s.PlayerSoft = append(s.PlayerSoft, Soft(h.Cards))
	}

	if g.phase == PhasePlayerTurn {
		h := g.hands[g.active]
		if h.Status == StatusPlaying && g.balance.GreaterThanOrEqual(h.Bet) {
			s.CanDouble = g.canDouble(h)
			s.CanSplit = g.canSplit(h)
		}
	}
	return s
}
