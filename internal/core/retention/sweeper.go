// Package retention evicts archived documents once they are older than the
// configured retention, for stores that do not expire them natively.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/metrics"
)

// Config contains configuration for the sweeper
type Config struct {
	// Interval between sweep cycles
	Interval time.Duration
	// Retention is how long archived documents are kept
	Retention time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Retention: 24 * time.Hour,
	}
}

// Sweeper periodically calls Sweep on a store
type Sweeper struct {
	store  storage.Sweeper
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastRun   time.Time
	lastSwept int64
}

// New creates a sweeper. A zero interval or retention takes the default.
func New(store storage.Sweeper, config Config, logger *slog.Logger) *Sweeper {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  store,
		config: config,
		logger: logger.With("component", "retention-sweeper"),
		now:    time.Now,
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(loopCtx)

	s.logger.Info("Retention sweeper started", "interval", s.config.Interval, "retention", s.config.Retention)
	return nil
}

// Stop stops the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Retention sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce evicts documents archived before now minus the retention.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	now := s.now()
	n, err := s.store.Sweep(ctx, now.Add(-s.config.Retention))

	s.mu.Lock()
	s.lastRun = now
	s.lastSwept = n
	s.mu.Unlock()

	if n > 0 {
		metrics.SweptDocuments.Add(float64(n))
		s.logger.Info("Swept archived documents", "count", n)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Error("Sweep failed", "error", err)
	}
	return n
}

// LastRun returns the time of the last sweep and how many documents it removed.
func (s *Sweeper) LastRun() (time.Time, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastSwept
}

// IsRunning returns whether the loop is running
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
