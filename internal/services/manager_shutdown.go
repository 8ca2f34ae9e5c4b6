package services

import (
	"context"
	"errors"
	"fmt"
)

// Shutdown stops intake first, then background work, then closes the
// broker and the connector. The kill timer bounds the whole sequence.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.killer.Arm(m.cfg.Shutdown.KillDelay)
	defer m.killer.Disarm()

	stopCtx := ctx
	if m.cfg.Shutdown.StopTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, m.cfg.Shutdown.StopTimeout)
		defer cancel()
	}

	var errs []error
	if m.server != nil {
		if err := m.server.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	cancel, group := m.cancel, m.group
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if m.orchestrator != nil {
		if err := m.orchestrator.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline refresh: %w", err))
		}
	}
	if m.sweeper != nil {
		if err := m.sweeper.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("retention sweeper: %w", err))
		}
	}

	if group != nil {
		m.logger.Info("Waiting for transports to finish")
		// a transport failure is reported by Wait, not here
		done := make(chan struct{})
		go func() {
			_ = group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-stopCtx.Done():
			m.logger.Warn("Timeout waiting for transports")
			errs = append(errs, stopCtx.Err())
		}
	}

	if err := m.closeResources(stopCtx); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info("Services stopped")
	return errors.Join(errs...)
}

func (m *Manager) closeResources(ctx context.Context) error {
	var errs []error
	if m.broker != nil {
		if err := m.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
		m.broker = nil
	}
	if m.connector != nil {
		if err := m.connector.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close connector: %w", err))
		}
		m.connector = nil
	}
	return errors.Join(errs...)
}
