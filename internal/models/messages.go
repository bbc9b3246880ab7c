package models

import "encoding/json"

const (
	MsgPing    = "PING"
	MsgPong    = "PONG"
	MsgError   = "ERROR"
	MsgBalance = "BALANCE_UPDATE"
	MsgState   = "GAME_STATE"
	MsgUpdate  = "GAME_UPDATE"

	MsgCrashBetAccepted  = "CRASH_BET_ACCEPTED"
	MsgCrashBetCancelled = "CRASH_BET_CANCELLED"
	MsgCrashStarted      = "CRASH_STARTED"
	MsgCrashCrashed      = "CRASH_CRASHED"
	MsgCrashCashout      = "CRASH_CASHOUT"

	MsgPlinkoResult = "PLINKO_RESULT"
	MsgSlotsResult  = "SLOTS_RESULT"
)

// Inbound actions.
const (
	ActionJoin      = "JOIN"
	ActionReset     = "RESET"
	ActionAddBet    = "ADD_BET"
	ActionClearBet  = "CLEAR_BET"
	ActionDeal      = "DEAL"
	ActionHit       = "HIT"
	ActionStand     = "STAND"
	ActionDouble    = "DOUBLE"
	ActionSplit     = "SPLIT"
	ActionInsurance = "TAKE_INSURANCE"
	ActionPlaceBet  = "PLACE_BET"
	ActionCancelBet = "CANCEL_BET"
	ActionStart     = "START"
	ActionCashout   = "CASHOUT"
	ActionSpin      = "SPIN"
)

// Command is a client frame on the real-time channel.
type Command struct {
	Type string          `json:"type"`
	Game GameType        `json:"game,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is a server frame on the real-time channel.
type Message struct {
	Type string      `json:"type"`
	Game GameType    `json:"game,omitempty"`
	Data interface{} `json:"data"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}
