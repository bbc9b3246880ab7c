package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minigames-backend/internal/models"
)

// Settler moves money for the game services. Debits are tried once and a
// failure aborts the action. Credits owed for a decided outcome are retried
// and, if the ledger still refuses, parked in the pending queue for the
// reconciler.
type Settler struct {
	ledger  Ledger
	queue   PendingQueue
	retries uint
	log     *zap.Logger

	// NewBackOff builds the retry schedule of one credit.
	NewBackOff func() backoff.BackOff
}

type Credit struct {
	Balance decimal.Decimal
	// Pending is set when the credit was queued instead of applied.
	Pending bool
	// Known is false when the ledger could not be read after a failed
	// credit. Balance is then zero.
	Known bool

	amount decimal.Decimal
}

// BalanceOr returns the ledger balance, or snapshot plus the credited
// amount when the ledger balance is unknown.
func (c Credit) BalanceOr(snapshot decimal.Decimal) decimal.Decimal {
	if c.Known {
		return c.Balance
	}
	return snapshot.Add(c.amount)
}

func NewSettler(ledger Ledger, queue PendingQueue, retries uint, log *zap.Logger) *Settler {
	if retries == 0 {
		retries = 1
	}
	return &Settler{
		ledger:  ledger,
		queue:   queue,
		retries: retries,
		log:     log,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (s *Settler) Ledger() Ledger {
	return s.ledger
}

func (s *Settler) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, ledgerErr("balance read", err)
	}
	return bal, nil
}

// Debit takes a stake. Nothing is retried: the caller has not changed any
// state yet and reports the failure to the player.
func (s *Settler) Debit(ctx context.Context, userID string, game models.GameType, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, validationErr(fmt.Errorf("stake must be positive, got %s", amount))
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, validationErr(fmt.Errorf("stake %s is not a whole number of cents", amount))
	}
	d := models.Delta{
		Key:         models.GenerateEntryKey(),
		UserID:      userID,
		Amount:      amount.Neg(),
		Kind:        models.EntryKindWager,
		Game:        game,
		Description: description,
	}
	bal, err := s.ledger.ApplyDelta(ctx, d)
	if err != nil {
		s.log.Warn("debit rejected",
			zap.String("user_id", userID),
			zap.String("game", string(game)),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return decimal.Zero, ledgerErr("debit", err)
	}
	return bal, nil
}

// Credit pays a refund or a payout. The outcome it pays for is already
// decided, so the credit survives cancellation of ctx and never fails: it
// is either applied or queued. Amounts are rounded to cents.
func (s *Settler) Credit(ctx context.Context, userID string, game models.GameType, kind models.EntryKind, amount decimal.Decimal, description string) Credit {
	ctx = context.WithoutCancel(ctx)
	amount = amount.Round(2)
	d := models.Delta{
		Key:         models.GenerateEntryKey(),
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Game:        game,
		Description: description,
	}

	attempts := 0
	bal, err := backoff.Retry(ctx, func() (decimal.Decimal, error) {
		attempts++
		b, err := s.ledger.ApplyDelta(ctx, d)
		if errors.Is(err, ErrInsufficientFunds) {
			return b, backoff.Permanent(err)
		}
		return b, err
	}, backoff.WithBackOff(s.NewBackOff()), backoff.WithMaxTries(s.retries))
	if err == nil {
		return Credit{Balance: bal, Known: true, amount: amount}
	}

	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.String("game", string(game)),
		zap.String("kind", string(kind)),
		zap.String("amount", amount.String()),
		zap.String("key", d.Key),
		zap.Int("attempts", attempts),
		zap.Error(err),
	}
	if qerr := s.queue.PushPending(ctx, models.PendingCredit{Delta: d, Attempts: attempts, LastErr: err.Error()}); qerr != nil {
		s.log.Error("credit lost: ledger and pending queue both failed", append(fields, zap.NamedError("queue_error", qerr))...)
	} else {
		s.log.Error("credit failed, queued for reconciliation", fields...)
	}

	snapshot, berr := s.ledger.GetBalance(ctx, userID)
	if berr != nil {
		s.log.Warn("balance unknown after failed credit", zap.String("user_id", userID), zap.Error(berr))
		return Credit{Pending: true, amount: amount}
	}
	return Credit{Balance: snapshot.Add(amount), Pending: true, Known: true, amount: amount}
}

// Reconcile replays queued credits with their original keys, so a credit
// that did land before its failure was reported is not paid twice. It stops
// at the first failure and puts that credit back.
func (s *Settler) Reconcile(ctx context.Context) (int, error) {
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		pc, err := s.queue.PopPending(ctx)
		if err != nil {
			return applied, fmt.Errorf("failed to read pending credits: %w", err)
		}
		if pc == nil {
			return applied, nil
		}
		if _, err := s.ledger.ApplyDelta(ctx, pc.Delta); err != nil {
			pc.Attempts++
			pc.LastErr = err.Error()
			if qerr := s.queue.PushPending(ctx, *pc); qerr != nil {
				s.log.Error("pending credit dropped", zap.String("key", pc.Delta.Key), zap.Error(qerr))
			}
			return applied, fmt.Errorf("failed to reconcile credit %s: %w", pc.Delta.Key, err)
		}
		s.log.Info("pending credit reconciled",
			zap.String("user_id", pc.Delta.UserID),
			zap.String("key", pc.Delta.Key),
			zap.String("amount", pc.Delta.Amount.String()),
		)
		applied++
	}
}

// RunReconciler calls Reconcile on every tick until ctx is done.
func (s *Settler) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.Reconcile(ctx); err != nil {
				s.log.Warn("reconciliation incomplete", zap.Int("applied", n), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
