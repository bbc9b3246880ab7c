package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minigames-backend/internal/models"
	"minigames-backend/internal/services"
)

// reply is the frame answering one command. moved marks commands that
// changed the ledger balance.
type reply struct {
	typ   string
	data  any
	moved bool
}

func state(data any, err error) (reply, error) {
	return reply{typ: models.MsgState, data: data}, err
}

// settled answers a command that moved money with a typ frame.
func settled(typ string) func(any, error) (reply, error) {
	return func(data any, err error) (reply, error) {
		return reply{typ: typ, data: data, moved: true}, err
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, client *Client, cmd models.Command) {
	if cmd.Type == models.MsgPing {
		client.Emit(models.Message{Type: models.MsgPong, Data: gin.H{"timestamp": time.Now().Unix()}})
		return
	}

	if !cmd.Game.Valid() {
		h.sendError(client, cmd.Game, cmd.Type, fmt.Errorf("%w: game %q", services.ErrUnknownAction, cmd.Game))
		return
	}
	if err := h.allow(ctx, client, cmd); err != nil {
		h.sendError(client, cmd.Game, cmd.Type, err)
		return
	}

	var (
		r   reply
		err error
	)
	switch cmd.Game {
	case models.GameTypeBlackjack:
		r, err = h.blackjackCommand(ctx, client, cmd)
	case models.GameTypeCrash:
		r, err = h.crashCommand(ctx, client, cmd)
	case models.GameTypePlinko:
		r, err = h.plinkoCommand(ctx, client, cmd)
	case models.GameTypeSlots:
		r, err = h.slotsCommand(ctx, client, cmd)
	}
	if err != nil {
		h.sendError(client, cmd.Game, cmd.Type, err)
		return
	}

	client.Emit(models.Message{Type: r.typ, Game: cmd.Game, Data: r.data})
	if r.moved {
		h.notifyBalance(ctx, client)
	}
}

// allow applies the per-user command limit. A limiter outage lets the
// command through.
func (h *WebSocketHandler) allow(ctx context.Context, client *Client, cmd models.Command) error {
	if h.limiter == nil || h.rateLimit <= 0 {
		return nil
	}
	ok, err := h.limiter.Allow(ctx, client.UserID, "ws:"+string(cmd.Game), h.rateLimit)
	if err != nil {
		client.log.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return services.ErrRateLimited
	}
	return nil
}

func (h *WebSocketHandler) blackjackCommand(ctx context.Context, client *Client, cmd models.Command) (reply, error) {
	svc := h.blackjack
	switch cmd.Type {
	case models.ActionJoin:
		return state(svc.Join(ctx, client.UserID, client.Username, client.ID))
	case models.ActionReset:
		return state(svc.Reset(ctx, client.UserID))
	case models.ActionAddBet:
		var req models.BetRequest
		if err := decode(cmd.Data, &req); err != nil {
			return reply{}, err
		}
		return state(svc.AddBet(ctx, client.UserID, req.Amount))
	case models.ActionClearBet:
		return state(svc.ClearBet(ctx, client.UserID))
	case models.ActionDeal:
		return settled(models.MsgState)(svc.Deal(ctx, client.UserID, client))
	case models.ActionHit:
		return settled(models.MsgState)(svc.Hit(ctx, client.UserID, client))
	case models.ActionStand:
		return settled(models.MsgState)(svc.Stand(ctx, client.UserID, client))
	case models.ActionDouble:
		return settled(models.MsgState)(svc.Double(ctx, client.UserID, client))
	case models.ActionSplit:
		return settled(models.MsgState)(svc.Split(ctx, client.UserID, client))
	case models.ActionInsurance:
		var req models.InsuranceRequest
		if err := decode(cmd.Data, &req); err != nil {
			return reply{}, err
		}
		return settled(models.MsgState)(svc.TakeInsurance(ctx, client.UserID, req.Wants, client))
	}
	return reply{}, fmt.Errorf("%w: %s", services.ErrUnknownAction, cmd.Type)
}

func (h *WebSocketHandler) crashCommand(ctx context.Context, client *Client, cmd models.Command) (reply, error) {
	svc := h.crash
	switch cmd.Type {
	case models.ActionJoin:
		return state(svc.Join(ctx, client.UserID, client.Username, client.ID, client))
	case models.ActionPlaceBet:
		var req models.BetRequest
		if err := decode(cmd.Data, &req); err != nil {
			return reply{}, err
		}
		return settled(models.MsgCrashBetAccepted)(svc.PlaceBet(ctx, client.UserID, req.Amount))
	case models.ActionCancelBet:
		return settled(models.MsgCrashBetCancelled)(svc.CancelBet(ctx, client.UserID))
	case models.ActionStart:
		started, err := svc.Start(ctx, client.UserID, client)
		return reply{typ: models.MsgCrashStarted, data: started}, err
	case models.ActionCashout:
		var req models.CashoutRequest
		if err := decode(cmd.Data, &req); err != nil {
			return reply{}, err
		}
		return settled(models.MsgCrashCashout)(svc.Cashout(ctx, client.UserID, req.Multiplier))
	}
	return reply{}, fmt.Errorf("%w: %s", services.ErrUnknownAction, cmd.Type)
}

func (h *WebSocketHandler) plinkoCommand(ctx context.Context, client *Client, cmd models.Command) (reply, error) {
	switch cmd.Type {
	case models.ActionJoin:
		return state(h.drawn.Join(ctx, models.GameTypePlinko, client.UserID, client.Username, client.ID))
	case models.ActionPlaceBet:
		var req models.BetRequest
		if err := decode(cmd.Data, &req); err != nil {
			return reply{}, err
		}
		return settled(models.MsgPlinkoResult)(h.drawn.PlayPlinko(ctx, client.UserID, req.Amount))
	}
	return reply{}, fmt.Errorf("%w: %s", services.ErrUnknownAction, cmd.Type)
}

func (h *WebSocketHandler) slotsCommand(ctx context.Context, client *Client, cmd models.Command) (reply, error) {
	switch cmd.Type {
	case models.ActionJoin:
		return state(h.drawn.Join(ctx, models.GameTypeSlots, client.UserID, client.Username, client.ID))
	case models.ActionSpin:
		var req models.BetRequest
		if err := decode(cmd.Data, &req); err != nil {
			return reply{}, err
		}
		return settled(models.MsgSlotsResult)(h.drawn.Spin(ctx, client.UserID, req.Amount))
	}
	return reply{}, fmt.Errorf("%w: %s", services.ErrUnknownAction, cmd.Type)
}
