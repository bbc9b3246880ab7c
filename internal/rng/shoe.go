package rng

import "minigames-backend/internal/models"

const (
	DefaultDecks       = 6
	DefaultReshuffleAt = 20
)

// Shoe is a multi-deck card source owned by one card game session.
type Shoe struct {
	decks       int
	reshuffleAt int
	src         Source
	cards       []models.Card
	stacked     []models.Card
}

func NewShoe(decks, reshuffleAt int, src Source) *Shoe {
	if decks < 1 {
		decks = DefaultDecks
	}
	if reshuffleAt < 0 {
		reshuffleAt = DefaultReshuffleAt
	}
	if src == nil {
		src = Crypto()
	}
	s := &Shoe{decks: decks, reshuffleAt: reshuffleAt, src: src}
	s.refill()
	return s
}

// NewStackedShoe deals the given cards first, in order, and then falls back
// to a freshly shuffled shoe.
func NewStackedShoe(src Source, cards ...models.Card) *Shoe {
	s := NewShoe(DefaultDecks, DefaultReshuffleAt, src)
	s.stacked = append([]models.Card(nil), cards...)
	return s
}

func (s *Shoe) refill() {
	s.cards = make([]models.Card, 0, 52*s.decks)
	for d := 0; d < s.decks; d++ {
		for _, suit := range models.Suits {
			for _, rank := range models.Ranks {
				s.cards = append(s.cards, models.Card{Suit: suit, Rank: rank})
			}
		}
	}
	s.Shuffle()
}

// Shuffle is a Fisher-Yates pass over the remaining cards.
func (s *Shoe) Shuffle() {
	for i := len(s.cards) - 1; i > 0; i-- {
		j := s.src.IntN(i + 1)
		s.cards[i], s.cards[j] = s.cards[j], s.cards[i]
	}
}

// Draw removes the next card. When fewer than reshuffleAt cards remain the
// remainder is discarded and a new shoe is shuffled first.
func (s *Shoe) Draw() models.Card {
	if len(s.stacked) > 0 {
		c := s.stacked[0]
		s.stacked = s.stacked[1:]
		return c
	}
	if len(s.cards) < s.reshuffleAt || len(s.cards) == 0 {
		s.refill()
	}
	c := s.cards[len(s.cards)-1]
	s.cards = s.cards[:len(s.cards)-1]
	return c
}

func (s *Shoe) Remaining() int {
	return len(s.cards) + len(s.stacked)
}
