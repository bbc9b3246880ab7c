package plinko

import (
	"errors"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
)

const Rows = 14

const (
	Left  = 0
	Right = 1
)

var ErrInvalidBet = errors.New("bet must be positive")

// Multipliers is indexed by bucket, which is the number of right bounces.
var Multipliers = []decimal.Decimal{
	decimal.NewFromInt(1000),
	decimal.NewFromInt(100),
	decimal.NewFromInt(10),
	decimal.NewFromInt(5),
	decimal.NewFromInt(2),
	decimal.NewFromInt(1),
	decimal.RequireFromString("0.5"),
	decimal.RequireFromString("0.2"),
	decimal.RequireFromString("0.5"),
	decimal.NewFromInt(1),
	decimal.NewFromInt(2),
	decimal.NewFromInt(5),
	decimal.NewFromInt(10),
	decimal.NewFromInt(100),
	decimal.NewFromInt(1000),
}

type Result struct {
	Path       []int           `json:"path"`
	Bucket     int             `json:"slotIndex"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Bet        decimal.Decimal `json:"bet"`
	Payout     decimal.Decimal `json:"payout"`
}

// Drop bounces a ball through every row.
func Drop(src rng.Source) []int {
	path := make([]int, Rows)
	for i := range path {
		path[i] = rng.Direction(src)
	}
	return path
}

// Bucket counts the right bounces of a path.
func Bucket(path []int) int {
	b := 0
	for _, d := range path {
		if d == Right {
			b++
		}
	}
	return b
}

// Settle prices a finished path.
func Settle(bet decimal.Decimal, path []int) (Result, error) {
	if !bet.IsPositive() {
		return Result{}, ErrInvalidBet
	}
	if len(path) != Rows {
		return Result{}, errors.New("path length must equal row count")
	}
	b := Bucket(path)
	m := Multipliers[b]
	return Result{
		Path:       path,
		Bucket:     b,
		Multiplier: m,
		Bet:        bet,
		Payout:     models.CalculatePayout(bet, m),
	}, nil
}

func Play(bet decimal.Decimal, src rng.Source) (Result, error) {
	if !bet.IsPositive() {
		return Result{}, ErrInvalidBet
	}
	return Settle(bet, Drop(src))
}

// BucketProbability is the closed-form Binomial(Rows, 0.5) mass of bucket k.
func BucketProbability(k int) float64 {
	if k < 0 || k > Rows {
		return 0
	}
	c := 1.0
	for i := 0; i < k; i++ {
		c = c * float64(Rows-i) / float64(i+1)
	}
	return c / float64(uint64(1)<<Rows)
}
