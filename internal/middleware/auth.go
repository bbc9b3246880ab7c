package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minigames-backend/internal/services"
)

// AuthMiddleware accepts a bearer token, or a token query parameter for
// websocket handshakes that cannot set headers.
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				c.Abort()
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("session_id", claims.SessionID)

		c.Next()
	}
}

// RateLimitMiddleware caps authenticated requests per user and route in
// fixed one-minute windows.
func RateLimitMiddleware(limiter services.RateLimiter, limit int, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" || limit <= 0 {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), userID, "http:"+c.FullPath(), limit)
		if err != nil {
			log.Warn("rate limit check failed", zap.String("user_id", userID), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": services.RateLimitWindow.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
