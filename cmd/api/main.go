package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minigames-backend/internal/config"
	"minigames-backend/internal/games/blackjack"
	"minigames-backend/internal/handlers"
	"minigames-backend/internal/logger"
	"minigames-backend/internal/middleware"
	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
	"minigames-backend/internal/services"
)

// ledgerBackend is everything main needs from a ledger implementation.
type ledgerBackend interface {
	services.Ledger
	services.PendingQueue
	services.RateLimiter
}

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logr.Sync()
	if envErr != nil {
		logr.Info("No .env file found, using environment variables")
	}

	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, pinger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		logr.Fatal("Failed to open ledger", zap.String("backend", cfg.LedgerBackend), zap.Error(err))
	}
	defer closeLedger()

	settler := services.NewSettler(ledger, ledger, cfg.CreditRetries, logr)
	jwtService := services.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	limits := models.BetLimits{Min: cfg.MinBet, Max: cfg.MaxBet}

	pacing := services.Pacing{Deal: cfg.DealDelay, Dealer: cfg.DealerDelay, Natural: cfg.NaturalDelay}
	if !cfg.Interactive() {
		pacing = services.Pacing{}
	}
	src := rng.Crypto()
	newDeck := func() blackjack.Deck {
		return rng.NewShoe(cfg.ShoeDecks, cfg.ShoeReshuffleAt, src)
	}

	blackjackService := services.NewBlackjackService(settler, limits, pacing, newDeck, logr)
	crashService := services.NewCrashService(settler, limits, src, logr)
	drawnService := services.NewDrawnService(settler, limits, src, logr)

	wsHandler := handlers.NewWebSocketHandler(blackjackService, crashService, drawnService, settler, ledger, cfg.RateLimitPerMinute, logr)
	gameHandler := handlers.NewGameHandler(settler, blackjackService, crashService, drawnService, pinger, logr)
	userHandler := handlers.NewUserHandler(settler, jwtService, logr)

	go settler.RunReconciler(ctx, cfg.ReconcileInterval)

	go func() {
		ticker := time.NewTicker(cfg.SessionIdleTTL / 4)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n := blackjackService.Sweep(cfg.SessionIdleTTL) +
					crashService.Sweep(cfg.SessionIdleTTL) +
					drawnService.Sweep(cfg.SessionIdleTTL)
				if n > 0 {
					logr.Info("idle sessions swept", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", gameHandler.Health)
	if cfg.DevTokenIssuer {
		logr.Warn("Development token issuer enabled")
		router.POST("/auth/token", userHandler.IssueToken)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/ws", wsHandler.HandleWebSocket)

		limited := protected.Group("")
		limited.Use(middleware.RateLimitMiddleware(ledger, cfg.RateLimitPerMinute, logr))
		{
			limited.GET("/me", userHandler.GetCurrentUser)
			limited.GET("/balance", gameHandler.GetBalance)
			limited.GET("/transactions", gameHandler.GetTransactions)
			limited.GET("/games/active", gameHandler.GetActiveGames)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logr.Info("Server starting", zap.String("port", cfg.Port), zap.String("ledger", cfg.LedgerBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func openLedger(ctx context.Context, cfg *config.Config) (ledgerBackend, handlers.Pinger, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		db, err := services.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		pg, err := services.NewPostgresLedger(ctx, db, cfg.StartingBalance)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		// Postgres has no counters; rate limits stay in process.
		return postgresBackend{pg, services.NewMemoryLedger(cfg.StartingBalance)}, pg, func() { pg.Close() }, nil
	case config.LedgerMemory:
		return services.NewMemoryLedger(cfg.StartingBalance), nil, func() {}, nil
	default:
		rl, err := services.NewRedisLedger(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return rl, rl, func() { rl.Close() }, nil
	}
}

type postgresBackend struct {
	*services.PostgresLedger
	limiter services.RateLimiter
}

func (b postgresBackend) Allow(ctx context.Context, userID, action string, limit int) (bool, error) {
	return b.limiter.Allow(ctx, userID, action, limit)
}
