package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"minigames-backend/internal/config"
	"minigames-backend/internal/models"
)

// RedisLedger stores balances, the per-user entry log, applied delta keys,
// the pending-credit queue and rate-limit counters in Redis.
type RedisLedger struct {
	client   *redis.Client
	starting decimal.Decimal
}

func NewRedisLedger(ctx context.Context, cfg *config.Config) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLedger{client: client, starting: cfg.StartingBalance}, nil
}

func (s *RedisLedger) Close() error {
	return s.client.Close()
}

func (s *RedisLedger) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readBalance returns the stored balance, or the starting balance for an
// account the ledger has never written.
func (s *RedisLedger) readBalance(ctx context.Context, c getter, userID string) (decimal.Decimal, error) {
	data, err := c.Get(ctx, fmt.Sprintf(KeyWallet, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return s.starting, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get wallet: %w", err)
	}
	bal, err := decimal.NewFromString(data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt wallet balance %q: %w", data, err)
	}
	return bal, nil
}

func (s *RedisLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.readBalance(ctx, s.client, userID)
}

// ApplyDelta moves the balance inside a WATCH/MULTI transaction on the
// wallet and applied-key pair, retrying when another writer got there first.
func (s *RedisLedger) ApplyDelta(ctx context.Context, d models.Delta) (decimal.Decimal, error) {
	walletKey := fmt.Sprintf(KeyWallet, d.UserID)
	appliedKey := fmt.Sprintf(KeyAppliedDelta, d.Key)
	userLedgerKey := fmt.Sprintf(KeyUserLedger, d.UserID)

	var result decimal.Decimal
	txf := func(tx *redis.Tx) error {
		before, err := s.readBalance(ctx, tx, d.UserID)
		if err != nil {
			return err
		}
		seen, err := tx.Exists(ctx, appliedKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check delta key: %w", err)
		}
		if seen > 0 {
			result = before
			return nil
		}

		after := before.Add(d.Amount)
		if after.IsNegative() {
			result = before
			return ErrInsufficientFunds
		}

		now := time.Now()
		entry := models.LedgerEntry{
			ID:            d.Key,
			UserID:        d.UserID,
			Kind:          d.Kind,
			Amount:        d.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Game:          d.Game,
			Description:   d.Description,
			CreatedAt:     now,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, walletKey, after.String(), 0)
			pipe.Set(ctx, appliedKey, entry.ID, TTLAppliedDelta)
			pipe.Set(ctx, fmt.Sprintf(KeyLedgerEntry, entry.ID), data, TTLLedgerEntry)
			pipe.ZAdd(ctx, userLedgerKey, redis.Z{Score: float64(now.UnixNano()), Member: entry.ID})
			pipe.ZRemRangeByRank(ctx, userLedgerKey, 0, -(MaxHistory + 1))
			return nil
		})
		if err == nil {
			result = after
		}
		return err
	}

	for i := 0; i < MaxWalletTxRetries; i++ {
		err := s.client.Watch(ctx, txf, walletKey, appliedKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return result, err
			}
			return decimal.Zero, fmt.Errorf("failed to apply delta %s: %w", d.Key, err)
		}
		return result, nil
	}
	return decimal.Zero, fmt.Errorf("failed to apply delta %s: wallet contended", d.Key)
}

func (s *RedisLedger) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	limit = clampHistory(limit)

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserLedger, userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger ids: %w", err)
	}
	if len(ids) == 0 {
		return []models.LedgerEntry{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(KeyLedgerEntry, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	entries := make([]models.LedgerEntry, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}
		var e models.LedgerEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisLedger) PushPending(ctx context.Context, pc models.PendingCredit) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("failed to marshal pending credit: %w", err)
	}
	return s.client.LPush(ctx, KeyPendingCredits, data).Err()
}

func (s *RedisLedger) PopPending(ctx context.Context) (*models.PendingCredit, error) {
	data, err := s.client.RPop(ctx, KeyPendingCredits).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop pending credit: %w", err)
	}
	var pc models.PendingCredit
	if err := json.Unmarshal([]byte(data), &pc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending credit: %w", err)
	}
	return &pc, nil
}

func (s *RedisLedger) Allow(ctx context.Context, userID, action string, limit int) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	// SET NX opens the window with its expiry in the same transaction as
	// the increment, so a counter never outlives its window.
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, RateLimitWindow)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

// ResetRateLimit clears one action's counter.
func (s *RedisLedger) ResetRateLimit(ctx context.Context, userID, action string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyRateLimit, userID, action)).Err()
}

// DeleteAccount removes a user's wallet and entry log.
func (s *RedisLedger) DeleteAccount(ctx context.Context, userID string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyWallet, userID), fmt.Sprintf(KeyUserLedger, userID)).Err()
}
