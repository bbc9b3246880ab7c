package plinko

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minigames-backend/internal/rng"
)

func TestAllRightsLandInLastBucket(t *testing.T) {
	res, err := Play(decimal.NewFromInt(2), rng.NewSequence(0.9))
	require.NoError(t, err)
	assert.Equal(t, Rows, res.Bucket)
	assert.Len(t, res.Path, Rows)
	assert.True(t, res.Multiplier.Equal(decimal.NewFromInt(1000)))
	assert.True(t, res.Payout.Equal(decimal.NewFromInt(2000)))
}

func TestAlternatingPathLandsInCenter(t *testing.T) {
	res, err := Play(decimal.NewFromInt(10), rng.NewSequence(0.1, 0.9))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Bucket)
	assert.True(t, res.Payout.Equal(decimal.NewFromInt(2)))
}

func TestMultiplierTableIsSymmetric(t *testing.T) {
	require.Len(t, Multipliers, Rows+1)
	for i := range Multipliers {
		assert.True(t, Multipliers[i].Equal(Multipliers[Rows-i]), "bucket %d", i)
	}
}

func TestInvalidBet(t *testing.T) {
	_, err := Play(decimal.Zero, rng.NewSeeded(1))
	assert.ErrorIs(t, err, ErrInvalidBet)
	_, err = Settle(decimal.NewFromInt(1), []int{Right})
	assert.Error(t, err)
}

func TestBucketDistributionIsBinomial(t *testing.T) {
	src := rng.NewSeeded(42)
	const n = 200000
	counts := make([]int, Rows+1)
	for i := 0; i < n; i++ {
		counts[Bucket(Drop(src))]++
	}

	mode := 0
	for k := range counts {
		if counts[k] > counts[mode] {
			mode = k
		}
	}
	assert.Equal(t, 7, mode)

	total := 0.0
	for k := range counts {
		p := BucketProbability(k)
		total += p
		assert.InDelta(t, p, float64(counts[k])/n, 0.005, "bucket %d", k)
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	assert.InDelta(t, 3432.0/16384.0, BucketProbability(7), 1e-12)
}
