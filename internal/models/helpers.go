package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func GenerateSessionID(game GameType) string {
	return fmt.Sprintf("%s_%s", game, uuid.NewString())
}

func GenerateEntryKey() string {
	return uuid.NewString()
}

func ValidateAmount(amount decimal.Decimal, limits BetLimits) error {
	if !amount.IsPositive() {
		return fmt.Errorf("bet amount must be positive")
	}
	if amount.LessThan(limits.Min) {
		return fmt.Errorf("minimum bet is %s", limits.Min)
	}
	if amount.GreaterThan(limits.Max) {
		return fmt.Errorf("maximum bet is %s", limits.Max)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("bet amount has more than two decimal places")
	}
	return nil
}

func CalculatePayout(bet, multiplier decimal.Decimal) decimal.Decimal {
	return bet.Mul(multiplier).Round(2)
}

func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
