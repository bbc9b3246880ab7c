package models

import "github.com/shopspring/decimal"

type GameType string

const (
	GameTypeBlackjack GameType = "blackjack"
	GameTypeCrash     GameType = "crash"
	GameTypePlinko    GameType = "plinko"
	GameTypeSlots     GameType = "slots"
)

func (g GameType) Valid() bool {
	switch g {
	case GameTypeBlackjack, GameTypeCrash, GameTypePlinko, GameTypeSlots:
		return true
	}
	return false
}

type BetRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type InsuranceRequest struct {
	Wants bool `json:"wants"`
}

type CashoutRequest struct {
	Multiplier decimal.Decimal `json:"multiplier"`
}

type BetLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}
