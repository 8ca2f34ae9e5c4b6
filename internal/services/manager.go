package services

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/stagehand/internal/config"
	"github.com/syntrixbase/stagehand/internal/core/pubsub"
	"github.com/syntrixbase/stagehand/internal/core/retention"
	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/dispatch"
	"github.com/syntrixbase/stagehand/internal/lifecycle"
	"github.com/syntrixbase/stagehand/internal/orchestrator"
	"github.com/syntrixbase/stagehand/internal/server"
	"github.com/syntrixbase/stagehand/internal/transport/mq"
)

type Options struct {
	// RunHTTP serves the synchronous transport.
	RunHTTP bool
	// RunMQ serves the asynchronous transport. It requires mq.enabled.
	RunMQ bool
	// RunSweeper evicts archived documents past storage.retention.
	RunSweeper bool
}

// DefaultOptions runs every component the configuration enables.
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		RunHTTP:    true,
		RunMQ:      cfg.MQ.Enabled,
		RunSweeper: cfg.Storage.Retention > 0,
	}
}

// Manager wires the connector, the dispatch service and both transports
// together and owns their lifecycle.
type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	connector    storage.Connector
	dispatch     dispatch.Service
	orchestrator *orchestrator.Orchestrator
	server       server.Service
	broker       pubsub.Broker
	mqDispatcher *mq.Dispatcher
	sweeper      *retention.Sweeper
	killer       *lifecycle.Killer

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	logger := slog.Default().With("component", "services")
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		killer: lifecycle.NewKiller(nil),
	}
}

// Connector returns the cached connector, or nil before Init.
func (m *Manager) Connector() storage.Connector {
	return m.connector
}

// Orchestrator returns the pipeline orchestrator, or nil before Init.
func (m *Manager) Orchestrator() *orchestrator.Orchestrator {
	return m.orchestrator
}

// HTTPAddr returns the bound HTTP address, or "" when HTTP is not running.
func (m *Manager) HTTPAddr() string {
	if m.server == nil {
		return ""
	}
	return m.server.Addr()
}
