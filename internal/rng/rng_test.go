package rng_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
)

func TestShoeComposition(t *testing.T) {
	shoe := rng.NewShoe(6, 20, rng.NewSeeded(1))
	require.Equal(t, 312, shoe.Remaining())

	counts := map[models.Card]int{}
	for shoe.Remaining() > 20 {
		counts[shoe.Draw()]++
	}
	for _, n := range counts {
		assert.LessOrEqual(t, n, 6)
	}
}

func TestShoeReplenishesBelowLowWater(t *testing.T) {
	shoe := rng.NewShoe(1, 20, rng.NewSeeded(7))
	for shoe.Remaining() >= 20 {
		shoe.Draw()
	}
	require.Equal(t, 19, shoe.Remaining())

	shoe.Draw()
	assert.Equal(t, 51, shoe.Remaining(), "remainder discarded and a fresh deck drawn from")
}

func TestStackedShoe(t *testing.T) {
	ace := models.Card{Suit: models.Spades, Rank: "A"}
	king := models.Card{Suit: models.Hearts, Rank: "K"}
	shoe := rng.NewStackedShoe(rng.NewSeeded(3), ace, king)

	assert.Equal(t, ace, shoe.Draw())
	assert.Equal(t, king, shoe.Draw())
	assert.NotPanics(t, func() { shoe.Draw() })
}

func TestCryptoSourceRange(t *testing.T) {
	src := rng.Crypto()
	for i := 0; i < 1000; i++ {
		f := src.Float64()
		require.True(t, f >= 0 && f < 1)
		n := src.IntN(13)
		require.True(t, n >= 0 && n < 13)
	}
}

func TestSequence(t *testing.T) {
	seq := rng.NewSequence(0.5, 0.99, 0)
	assert.Equal(t, 0.5, seq.Float64())
	assert.Equal(t, 9, seq.IntN(10))
	assert.Equal(t, 0, seq.IntN(10))
	assert.Equal(t, 0.5, seq.Float64(), "wraps around")
}

func TestDirection(t *testing.T) {
	assert.Equal(t, 0, rng.Direction(rng.NewSequence(0.49)))
	assert.Equal(t, 1, rng.Direction(rng.NewSequence(0.5)))
}

func TestWeightedProbability(t *testing.T) {
	w := rng.NewWeighted([]int{0, 0, 0, 1})
	assert.InDelta(t, 0.75, w.Probability(0), 1e-9)
	assert.InDelta(t, 0.25, w.Probability(1), 1e-9)
	assert.Zero(t, w.Probability(2))

	src := rng.NewSeeded(42)
	hits := 0
	const n = 20000
	for i := 0; i < n; i++ {
		if w.Sample(src) == 1 {
			hits++
		}
	}
	assert.InDelta(t, 0.25, float64(hits)/n, 0.02)
}
