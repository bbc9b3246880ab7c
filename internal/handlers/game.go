package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minigames-backend/internal/models"
	"minigames-backend/internal/services"
)

// Pinger is a backend the health check can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

type GameHandler struct {
	settler   *services.Settler
	blackjack *services.BlackjackService
	crash     *services.CrashService
	drawn     *services.DrawnService
	backend   Pinger
	log       *zap.Logger
}

func NewGameHandler(
	settler *services.Settler,
	blackjack *services.BlackjackService,
	crash *services.CrashService,
	drawn *services.DrawnService,
	backend Pinger,
	log *zap.Logger,
) *GameHandler {
	return &GameHandler{
		settler:   settler,
		blackjack: blackjack,
		crash:     crash,
		drawn:     drawn,
		backend:   backend,
		log:       log,
	}
}

func (h *GameHandler) Health(c *gin.Context) {
	if h.backend != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.backend.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "ledger unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *GameHandler) GetBalance(c *gin.Context) {
	userID := c.GetString("user_id")

	balance, err := h.settler.Balance(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("failed to get balance", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": models.BalanceResponse{UserID: userID, Balance: balance},
	})
}

func (h *GameHandler) GetTransactions(c *gin.Context) {
	userID := c.GetString("user_id")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultHistory)))
	if err != nil || limit <= 0 || limit > services.MaxHistory {
		limit = services.DefaultHistory
	}

	entries, err := h.settler.Ledger().History(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error("failed to get ledger history", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transactions": entries,
		"count":        len(entries),
	})
}

func (h *GameHandler) GetActiveGames(c *gin.Context) {
	userID := c.GetString("user_id")

	games := []models.SessionInfo{}
	games = append(games, h.blackjack.Sessions().Sessions(userID)...)
	games = append(games, h.crash.Sessions().Sessions(userID)...)
	games = append(games, h.drawn.Sessions(userID)...)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"games":   games,
		"count":   len(games),
	})
}
