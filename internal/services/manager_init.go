package services

import (
	"context"
	"fmt"

	"github.com/syntrixbase/stagehand/internal/config"
	"github.com/syntrixbase/stagehand/internal/core/cache"
	"github.com/syntrixbase/stagehand/internal/core/pubsub"
	"github.com/syntrixbase/stagehand/internal/core/retention"
	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/dispatch"
	"github.com/syntrixbase/stagehand/internal/orchestrator"
	"github.com/syntrixbase/stagehand/internal/server"
	"github.com/syntrixbase/stagehand/internal/transport/mq"
	"github.com/syntrixbase/stagehand/internal/transport/rest"
)

var connectorFactory = func(ctx context.Context, cfg *config.Config) (storage.Connector, error) {
	return storage.NewConnector(ctx, cfg.Storage)
}

var brokerFactory = func(ctx context.Context, cfg *config.Config) (pubsub.Broker, error) {
	return mq.NewBroker(ctx, cfg.MQ)
}

// Init connects to the backing store and builds every enabled component.
// On failure everything opened so far is closed again.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.closeResources(context.WithoutCancel(ctx))
		}
	}()

	if err := m.initConnector(ctx); err != nil {
		return err
	}
	m.dispatch = dispatch.NewService(m.connector, m.cfg.Dispatch, nil)

	if err := m.initOrchestrator(ctx); err != nil {
		return err
	}

	if m.opts.RunHTTP {
		m.initHTTP()
	}
	if m.opts.RunMQ {
		if err := m.initMQ(ctx); err != nil {
			return err
		}
	}
	if s, ok := m.connector.(storage.Sweeper); ok && m.opts.RunSweeper {
		m.sweeper = retention.New(s, retention.Config{
			Interval:  m.cfg.Storage.SweepInterval,
			Retention: m.cfg.Storage.Retention,
		}, nil)
	}
	return nil
}

func (m *Manager) initConnector(ctx context.Context) error {
	inner, err := connectorFactory(ctx, m.cfg)
	if err != nil {
		return fmt.Errorf("failed to create storage connector: %w", err)
	}
	m.connector = cache.NewConnector(inner, cache.New(m.cfg.Cache))
	m.logger.Info("Connector initialized", "backend", m.cfg.Storage.Backend, "cache", m.cfg.Cache.Enabled)
	return nil
}

func (m *Manager) initOrchestrator(ctx context.Context) error {
	m.orchestrator = orchestrator.New(m.connector, m.cfg.Pipeline, nil)
	if err := m.orchestrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to load pipelines: %w", err)
	}
	return nil
}

func (m *Manager) initHTTP() {
	m.server = server.New(m.cfg.Server, nil)
	rest.NewHandler(m.dispatch, m.orchestrator).RegisterRoutes(m.server.HTTPMux())
	m.logger.Info("HTTP transport initialized", "host", m.cfg.Server.Host, "port", m.cfg.Server.HTTPPort)
}

func (m *Manager) initMQ(ctx context.Context) error {
	broker, err := brokerFactory(ctx, m.cfg)
	if err != nil {
		return fmt.Errorf("failed to connect message broker: %w", err)
	}
	m.broker = broker
	m.mqDispatcher = mq.NewDispatcher(broker, m.dispatch, m.cfg.MQ.Prefix, m.cfg.Dispatch.Workers)
	m.logger.Info("MQ transport initialized", "backend", m.cfg.MQ.Backend, "subject", mq.CoreSubject(m.cfg.MQ.Prefix))
	return nil
}

// Broker returns the message broker, or nil when MQ is not running.
func (m *Manager) Broker() pubsub.Broker {
	return m.broker
}
