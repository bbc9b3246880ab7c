package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

const (
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
	// DevTokenIssuer mounts POST /auth/token, which signs a token for any
	// user id. Never enable it where real balances live.
	DevTokenIssuer bool `env:"DEV_TOKEN_ISSUER" envDefault:"false"`

	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"redis"`
	RedisURL      string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass     string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Balance credited to an account the first time the ledger sees it.
	StartingBalance decimal.Decimal `env:"STARTING_BALANCE" envDefault:"1000"`
	MinBet          decimal.Decimal `env:"MIN_BET" envDefault:"0.1"`
	MaxBet          decimal.Decimal `env:"MAX_BET" envDefault:"10000"`

	ShoeDecks       int `env:"SHOE_DECKS" envDefault:"6"`
	ShoeReshuffleAt int `env:"SHOE_RESHUFFLE_AT" envDefault:"20"`

	DealDelay    time.Duration `env:"DEAL_DELAY" envDefault:"500ms"`
	DealerDelay  time.Duration `env:"DEALER_DELAY" envDefault:"800ms"`
	NaturalDelay time.Duration `env:"NATURAL_DELAY" envDefault:"1500ms"`

	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	SessionIdleTTL     time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	CreditRetries      uint          `env:"CREDIT_RETRIES" envDefault:"4"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerRedis, LedgerMemory:
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %s", c.LedgerBackend)
	}
	if !c.MinBet.IsPositive() || c.MaxBet.LessThan(c.MinBet) {
		return fmt.Errorf("invalid bet limits: min %s, max %s", c.MinBet, c.MaxBet)
	}
	if c.ShoeDecks < 1 {
		return fmt.Errorf("SHOE_DECKS must be at least 1")
	}
	if c.SessionIdleTTL <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL and RECONCILE_INTERVAL must be positive")
	}
	return nil
}

// Interactive reports whether card pacing delays should be applied.
func (c *Config) Interactive() bool {
	return c.Env != "test"
}
