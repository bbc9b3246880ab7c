package crash

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/rng"
)

const (
	// GrowthRate is k in M(t) = e^(k*t), t in seconds.
	GrowthRate = 0.096
	// InstantCrashChance is the probability of a 1.00x round.
	InstantCrashChance = 0.04
)

var (
	// ReturnToPlayer scales the Pareto tail to a 1% house edge.
	ReturnToPlayer = decimal.RequireFromString("0.99")
	MinMultiplier  = decimal.NewFromInt(1)
	hundred        = decimal.NewFromInt(100)
)

// CrashPoint maps a uniform draw h in [0, 1) onto a crash multiplier,
// truncated to two decimals.
func CrashPoint(h float64) decimal.Decimal {
	if h < InstantCrashChance {
		return MinMultiplier
	}
	if h >= 1 {
		h = math.Nextafter(1, 0)
	}
	denom := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(h))
	cp := ReturnToPlayer.DivRound(denom, 16).Mul(hundred).Floor().Div(hundred)
	if cp.LessThan(MinMultiplier) {
		return MinMultiplier
	}
	return cp
}

func SampleCrashPoint(src rng.Source) decimal.Decimal {
	return CrashPoint(rng.Unit(src))
}

// Multiplier is the growth curve value after elapsed time.
func Multiplier(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Exp(GrowthRate * elapsed.Seconds())
}

// CrashDelay is the time after start at which the curve reaches cp.
func CrashDelay(cp decimal.Decimal) time.Duration {
	m := cp.InexactFloat64()
	if m <= 1 {
		return 0
	}
	return time.Duration(math.Log(m) / GrowthRate * float64(time.Second))
}
