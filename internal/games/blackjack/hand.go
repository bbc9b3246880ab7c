package blackjack

import (
	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
)

type HandStatus string

const (
	StatusPlaying   HandStatus = "playing"
	StatusStood     HandStatus = "stood"
	StatusBusted    HandStatus = "busted"
	StatusBlackjack HandStatus = "blackjack"
)

func (s HandStatus) Terminal() bool {
	return s != StatusPlaying
}

type HandResult string

const (
	ResultNone      HandResult = ""
	ResultWin       HandResult = "win"
	ResultBlackjack HandResult = "blackjack"
	ResultPush      HandResult = "push"
	ResultLose      HandResult = "lose"
	ResultBust      HandResult = "bust"
)

type Hand struct {
	Cards  []models.Card
	Bet    decimal.Decimal
	Status HandStatus
	Result HandResult
	Return decimal.Decimal
}

func (h *Hand) Score() int {
	return Score(h.Cards)
}

func (h *Hand) pair() bool {
	return len(h.Cards) == 2 && h.Cards[0].Rank == h.Cards[1].Rank
}

// Score sums card values, counting each ace as 11 and then reducing aces to
// 1 one at a time while the total exceeds 21.
func Score(cards []models.Card) int {
	score, aces := 0, 0
	for _, c := range cards {
		score += c.Value()
		if c.IsAce() {
			aces++
		}
	}
	for score > 21 && aces > 0 {
		score -= 10
		aces--
	}
	return score
}

// Soft reports whether at least one ace is still counted as 11.
func Soft(cards []models.Card) bool {
	hard := 0
	hasAce := false
	for _, c := range cards {
		if c.IsAce() {
			hard++
			hasAce = true
			continue
		}
		hard += c.Value()
	}
	return hasAce && hard+10 <= 21
}

// Natural is a two-card 21.
func Natural(cards []models.Card) bool {
	return len(cards) == 2 && Score(cards) == 21
}

func views(cards []models.Card) []models.CardView {
	out := make([]models.CardView, len(cards))
	for i, c := range cards {
		out[i] = c.View()
	}
	return out
}
