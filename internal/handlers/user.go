package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minigames-backend/internal/services"
)

type UserHandler struct {
	settler *services.Settler
	jwt     *services.JWTService
	log     *zap.Logger
}

func NewUserHandler(settler *services.Settler, jwt *services.JWTService, log *zap.Logger) *UserHandler {
	return &UserHandler{settler: settler, jwt: jwt, log: log}
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	balance, err := h.settler.Balance(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("failed to get balance", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":       userID,
			"username": c.GetString("username"),
		},
		"session": gin.H{
			"session_id": c.GetString("session_id"),
		},
		"wallet": gin.H{
			"balance": balance,
		},
	})
}

type tokenRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Username string `json:"username"`
}

// IssueToken signs a token for any user id. It is only routed outside
// production.
func (h *UserHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	token, err := h.jwt.GenerateToken(req.UserID, req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
	})
}
