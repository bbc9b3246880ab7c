package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
)

// MemoryLedger keeps balances in process memory. It backs tests and the
// "memory" ledger backend.
type MemoryLedger struct {
	mu       sync.Mutex
	starting decimal.Decimal
	balances map[string]decimal.Decimal
	entries  map[string][]models.LedgerEntry
	// applied remembers keys for TTLAppliedDelta, like the Redis backend.
	applied  map[string]time.Time
	pruned   time.Time
	pending  []models.PendingCredit
	windows  map[string]window
	now      func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewMemoryLedger(starting decimal.Decimal) *MemoryLedger {
	return &MemoryLedger{
		starting: starting,
		balances: make(map[string]decimal.Decimal),
		entries:  make(map[string][]models.LedgerEntry),
		applied:  make(map[string]time.Time),
		windows:  make(map[string]window),
		now:      time.Now,
	}
}

func (m *MemoryLedger) balance(userID string) decimal.Decimal {
	if b, ok := m.balances[userID]; ok {
		return b
	}
	return m.starting
}

func (m *MemoryLedger) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(userID), nil
}

func (m *MemoryLedger) ApplyDelta(_ context.Context, d models.Delta) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)

	before := m.balance(d.UserID)
	if _, done := m.applied[d.Key]; done {
		return before, nil
	}
	after := before.Add(d.Amount)
	if after.IsNegative() {
		return before, ErrInsufficientFunds
	}

	m.balances[d.UserID] = after
	m.applied[d.Key] = now
	entries := append(m.entries[d.UserID], models.LedgerEntry{
		ID:            d.Key,
		UserID:        d.UserID,
		Kind:          d.Kind,
		Amount:        d.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Game:          d.Game,
		Description:   d.Description,
		CreatedAt:     now,
	})
	if len(entries) > MaxHistory {
		entries = entries[len(entries)-MaxHistory:]
	}
	m.entries[d.UserID] = entries
	return after, nil
}

// prune forgets applied keys and rate windows that have expired. It runs at
// most once per rate limit window.
func (m *MemoryLedger) prune(now time.Time) {
	if now.Sub(m.pruned) < RateLimitWindow {
		return
	}
	m.pruned = now
	for key, at := range m.applied {
		if now.Sub(at) >= TTLAppliedDelta {
			delete(m.applied, key)
		}
	}
	for key, w := range m.windows {
		if now.Sub(w.start) >= RateLimitWindow {
			delete(m.windows, key)
		}
	}
}

// History returns the newest entries first.
func (m *MemoryLedger) History(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = clampHistory(limit)
	entries := m.entries[userID]
	out := make([]models.LedgerEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *MemoryLedger) PushPending(_ context.Context, pc models.PendingCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pc)
	return nil
}

func (m *MemoryLedger) PopPending(_ context.Context) (*models.PendingCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	pc := m.pending[0]
	m.pending = m.pending[1:]
	return &pc, nil
}

func (m *MemoryLedger) Allow(_ context.Context, userID, action string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID + ":" + action
	now := m.now()
	w := m.windows[key]
	if now.Sub(w.start) >= RateLimitWindow {
		w = window{start: now}
	}
	w.count++
	m.windows[key] = w
	return w.count <= limit, nil
}
