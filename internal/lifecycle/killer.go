// Package lifecycle bounds how long a graceful shutdown may take.
package lifecycle

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Killer exits the process unless disarmed within its delay.
type Killer struct {
	exit   func(code int)
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewKiller creates a killer that calls os.Exit.
func NewKiller(logger *slog.Logger) *Killer {
	return newKiller(os.Exit, logger)
}

func newKiller(exit func(int), logger *slog.Logger) *Killer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Killer{exit: exit, logger: logger.With("component", "killer")}
}

// Arm starts the countdown. A negative delay disables it; arming twice
// keeps the first countdown.
func (k *Killer) Arm(delay time.Duration) {
	if delay < 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		return
	}
	k.logger.Debug("Process will be killed unless shut down in time", "delay", delay)
	k.timer = time.AfterFunc(delay, func() {
		k.logger.Warn("Failed to shut down gracefully within the kill delay, exiting now", "delay", delay)
		k.exit(1)
	})
}

// Disarm stops the countdown. It reports whether the countdown was stopped
// before firing.
func (k *Killer) Disarm() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer == nil {
		return false
	}
	stopped := k.timer.Stop()
	k.timer = nil
	return stopped
}
