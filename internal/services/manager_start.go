package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Start launches every initialized component and returns. A component that
// fails cancels the others; Wait reports the failure.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return errors.New("services already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = g

	if err := m.orchestrator.Start(gctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start pipeline refresh: %w", err)
	}
	if m.sweeper != nil {
		if err := m.sweeper.Start(gctx); err != nil {
			cancel()
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
	}

	if m.server != nil {
		g.Go(func() error { return m.server.Start(gctx) })
	}
	if m.mqDispatcher != nil {
		g.Go(func() error { return m.mqDispatcher.Start(gctx) })
	}
	m.logger.Info("Services started", "http", m.server != nil, "mq", m.mqDispatcher != nil, "sweeper", m.sweeper != nil)
	return nil
}

// Wait blocks until every transport has returned, either because a
// component failed or because Shutdown was called.
func (m *Manager) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}
