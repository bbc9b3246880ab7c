package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minigames-backend/internal/models"
)

func TestRegistryReplaceCancelsPrevious(t *testing.T) {
	r := NewRegistry[int](models.GameTypeCrash)

	first, old := r.Replace("u1", "c1", 1)
	assert.Nil(t, old)
	assert.True(t, first.Alive())

	second, old := r.Replace("u1", "c2", 2)
	require.Same(t, first, old)
	assert.False(t, first.Alive())
	assert.True(t, second.Alive())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 1, r.Len())

	e, err := r.Acquire("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, e.State)
	e.Unlock()
}

func TestRegistryAcquire(t *testing.T) {
	r := NewRegistry[string](models.GameTypeSlots)

	_, err := r.Acquire("nobody")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, CodeSession, Classify(err).Code)

	e, _ := r.Replace("u1", "c1", "table")
	held, err := r.Acquire("u1")
	require.NoError(t, err)
	require.Same(t, e, held)

	// A removal while the lock is held leaves the next Acquire stale.
	done := make(chan error, 1)
	go func() {
		_, err := r.Acquire("u1")
		done <- err
	}()
	e.cancel()
	held.Unlock()
	assert.ErrorIs(t, <-done, ErrStaleSession)
}

func TestRegistryDetachRequiresOwner(t *testing.T) {
	r := NewRegistry[int](models.GameTypeBlackjack)
	r.Replace("u1", "old-tab", 1)
	e, _ := r.Replace("u1", "new-tab", 2)

	assert.Nil(t, r.Detach("u1", "old-tab"))
	assert.True(t, e.Alive())
	assert.Equal(t, 1, r.Len())

	require.Same(t, e, r.Detach("u1", "new-tab"))
	assert.False(t, e.Alive())
	assert.Zero(t, r.Len())
	assert.Nil(t, r.Detach("u1", "new-tab"))
}

func TestRegistryRemoveOnlyCurrent(t *testing.T) {
	r := NewRegistry[int](models.GameTypePlinko)
	old, _ := r.Replace("u1", "c1", 1)
	cur, _ := r.Replace("u1", "c1", 2)

	assert.False(t, r.Remove(old))
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Remove(cur))
	assert.Zero(t, r.Len())
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry[int](models.GameTypeCrash)
	idle, _ := r.Replace("idle", "c1", 1)
	busy, _ := r.Replace("busy", "c2", 2)
	idle.touched.Store(time.Now().Add(-time.Hour).UnixNano())

	stale := r.Sweep(30 * time.Minute)
	require.Len(t, stale, 1)
	assert.Same(t, idle, stale[0])
	assert.False(t, idle.Alive())
	assert.True(t, busy.Alive())

	_, ok := r.Get("idle")
	assert.False(t, ok)
}

func TestRegistrySessions(t *testing.T) {
	r := NewRegistry[int](models.GameTypeSlots)
	assert.Empty(t, r.Sessions("u1"))

	e, _ := r.Replace("u1", "c1", 0)
	e.SetStatus("spinning")

	infos := r.Sessions("u1")
	require.Len(t, infos, 1)
	assert.Equal(t, e.ID(), infos[0].ID)
	assert.Equal(t, models.GameTypeSlots, infos[0].GameType)
	assert.Equal(t, "spinning", infos[0].Status)
}
