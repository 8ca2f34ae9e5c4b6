package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	cutoff []time.Time
	n      int64
	err    error
}

func (f *fakeStore) Sweep(_ context.Context, archivedBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = append(f.cutoff, archivedBefore)
	return f.n, f.err
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoff)
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeStore{}, Config{}, nil)
	assert.Equal(t, DefaultConfig(), s.config)
}

func TestSweeper_SweepOnceUsesRetention(t *testing.T) {
	store := &fakeStore{n: 3}
	s := New(store, Config{Interval: time.Minute, Retention: time.Hour}, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.Equal(t, int64(3), s.SweepOnce(context.Background()))
	require.Len(t, store.cutoff, 1)
	assert.Equal(t, now.Add(-time.Hour), store.cutoff[0])

	last, swept := s.LastRun()
	assert.Equal(t, now, last)
	assert.Equal(t, int64(3), swept)
}

func TestSweeper_ErrorIsNotFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	s := New(store, Config{Interval: time.Minute, Retention: time.Hour}, nil)
	assert.Equal(t, int64(0), s.SweepOnce(context.Background()))
}

func TestSweeper_StartStop(t *testing.T) {
	store := &fakeStore{}
	s := New(store, Config{Interval: 10 * time.Millisecond, Retention: time.Hour}, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return store.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
	calls := store.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, store.calls())

	require.NoError(t, s.Stop(context.Background()), "second stop is a no-op")
}
