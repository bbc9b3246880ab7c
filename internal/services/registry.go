package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"minigames-backend/internal/models"
)

// Entry is one live session. Its mutex serializes every mutation of State;
// its context is cancelled the moment the registry lets go of it, which is
// how timers and paced sequences learn that they are stale.
type Entry[T any] struct {
	mu      sync.Mutex
	id      string
	userID  string
	connID  string
	game    models.GameType
	ctx     context.Context
	cancel  context.CancelFunc
	created time.Time
	touched atomic.Int64
	status  atomic.Value

	// State is guarded by the entry lock.
	State T
}

func (e *Entry[T]) ID() string               { return e.id }
func (e *Entry[T]) UserID() string           { return e.userID }
func (e *Entry[T]) ConnID() string           { return e.connID }
func (e *Entry[T]) Context() context.Context { return e.ctx }

func (e *Entry[T]) Lock()   { e.mu.Lock() }
func (e *Entry[T]) Unlock() { e.mu.Unlock() }

// Alive reports whether the registry still holds this entry.
func (e *Entry[T]) Alive() bool {
	return e.ctx.Err() == nil
}

func (e *Entry[T]) touch() {
	e.touched.Store(time.Now().UnixNano())
}

func (e *Entry[T]) SetStatus(s string) {
	e.status.Store(s)
}

func (e *Entry[T]) Info() models.SessionInfo {
	status, _ := e.status.Load().(string)
	return models.SessionInfo{
		ID:        e.id,
		UserID:    e.userID,
		GameType:  e.game,
		Status:    status,
		CreatedAt: e.created,
		UpdatedAt: time.Unix(0, e.touched.Load()),
	}
}

// Registry holds at most one Entry per user for one game.
type Registry[T any] struct {
	game    models.GameType
	mu      sync.Mutex
	entries map[string]*Entry[T]
}

func NewRegistry[T any](game models.GameType) *Registry[T] {
	return &Registry[T]{game: game, entries: make(map[string]*Entry[T])}
}

// Replace installs a fresh entry for userID owned by connID. The previous
// entry, if any, is cancelled and returned so the caller can settle it.
func (r *Registry[T]) Replace(userID, connID string, state T) (fresh, old *Entry[T]) {
	ctx, cancel := context.WithCancel(context.Background())
	fresh = &Entry[T]{
		id:      models.GenerateSessionID(r.game),
		userID:  userID,
		connID:  connID,
		game:    r.game,
		ctx:     ctx,
		cancel:  cancel,
		created: time.Now(),
		State:   state,
	}
	fresh.touch()
	fresh.SetStatus("joined")

	r.mu.Lock()
	old = r.entries[userID]
	r.entries[userID] = fresh
	r.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	return fresh, old
}

// Acquire returns the user's entry locked. Release it with Entry.Unlock.
func (r *Registry[T]) Acquire(userID string) (*Entry[T], error) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}

	e.Lock()
	if !e.Alive() {
		e.Unlock()
		return nil, ErrStaleSession
	}
	e.touch()
	return e, nil
}

func (r *Registry[T]) Get(userID string) (*Entry[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	return e, ok
}

// Remove drops e if it is still the user's current entry.
func (r *Registry[T]) Remove(e *Entry[T]) bool {
	r.mu.Lock()
	cur, ok := r.entries[e.userID]
	if ok && cur == e {
		delete(r.entries, e.userID)
	}
	r.mu.Unlock()

	e.cancel()
	return ok && cur == e
}

// Detach removes the user's entry only when connID still owns it, so a
// closing tab does not tear down the session a newer tab opened.
func (r *Registry[T]) Detach(userID, connID string) *Entry[T] {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.connID != connID {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, userID)
	r.mu.Unlock()

	e.cancel()
	return e
}

// Sweep removes every entry untouched for longer than idle.
func (r *Registry[T]) Sweep(idle time.Duration) []*Entry[T] {
	cutoff := time.Now().Add(-idle).UnixNano()

	r.mu.Lock()
	var stale []*Entry[T]
	for userID, e := range r.entries {
		if e.touched.Load() < cutoff {
			delete(r.entries, userID)
			stale = append(stale, e)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.cancel()
	}
	return stale
}

func (r *Registry[T]) Sessions(userID string) []models.SessionInfo {
	if e, ok := r.Get(userID); ok {
		return []models.SessionInfo{e.Info()}
	}
	return nil
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
