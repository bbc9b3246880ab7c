package models

import "strconv"

type Suit string

const (
	Spades   Suit = "Spade"
	Hearts   Suit = "Heart"
	Clubs    Suit = "Club"
	Diamonds Suit = "Diamond"
)

var Suits = []Suit{Spades, Hearts, Clubs, Diamonds}

// Ranks in deck order. "A" is counted as 11 and reduced to 1 by scoring.
var Ranks = []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}

type Card struct {
	Suit Suit   `json:"suit"`
	Rank string `json:"value"`
}

func (c Card) IsAce() bool {
	return c.Rank == "A"
}

func (c Card) IsRed() bool {
	return c.Suit == Hearts || c.Suit == Diamonds
}

// Value is the card's blackjack value with aces counted high.
func (c Card) Value() int {
	switch c.Rank {
	case "J", "Q", "K":
		return 10
	case "A":
		return 11
	}
	n, err := strconv.Atoi(c.Rank)
	if err != nil {
		return 0
	}
	return n
}

type CardView struct {
	Suit         Suit   `json:"suit"`
	Value        string `json:"value"`
	IsRed        bool   `json:"isRed"`
	NumericValue int    `json:"numericValue"`
	Hidden       bool   `json:"hidden,omitempty"`
}

func (c Card) View() CardView {
	return CardView{Suit: c.Suit, Value: c.Rank, IsRed: c.IsRed(), NumericValue: c.Value()}
}

func HiddenCard() CardView {
	return CardView{Hidden: true}
}
