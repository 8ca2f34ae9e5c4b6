package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/syntrixbase/stagehand/internal/core/storage/config"
	"github.com/syntrixbase/stagehand/internal/core/storage/memory"
	"github.com/syntrixbase/stagehand/internal/core/storage/minio"
	"github.com/syntrixbase/stagehand/internal/core/storage/mongo"
	"github.com/syntrixbase/stagehand/internal/core/storage/postgres"
)

// Dependency injection for testing
var (
	newMongoProvider = func(ctx context.Context, cfg config.MongoConfig) (*mongo.Provider, error) {
		return mongo.NewProvider(ctx, cfg.URI, cfg.DatabaseName)
	}
	newPostgresProvider = func(ctx context.Context, cfg config.PostgresConfig) (*postgres.Provider, error) {
		return postgres.NewProvider(ctx, cfg)
	}
	newMinioFileStore = func(ctx context.Context, cfg config.MinioConfig) (*minio.FileStore, error) {
		return minio.NewFileStore(ctx, cfg)
	}

	// connectTimeout bounds how long startup waits for a backend to come up.
	connectTimeout = time.Minute
)

// NewConnector connects to the configured backend and composes the
// document, file and pipeline stores into one Connector.
func NewConnector(ctx context.Context, cfg config.Config) (Connector, error) {
	var (
		docs      DocumentStore
		files     FileStore
		pipelines PipelineStore
		providers []Provider
	)

	success := false
	defer func() {
		if !success {
			for i := len(providers) - 1; i >= 0; i-- {
				_ = providers[i].Close(context.Background())
			}
		}
	}()

	switch cfg.Backend {
	case config.BackendMemory:
		store, err := memory.NewStore(cfg.Memory.MaxInactive)
		if err != nil {
			return nil, err
		}
		docs, files, pipelines = store, store, store
		providers = append(providers, store)

	case config.BackendMongo:
		var p *mongo.Provider
		err := connectWithRetry(ctx, "mongo", func() error {
			var err error
			p, err = newMongoProvider(ctx, cfg.Mongo)
			return err
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)

		ds := mongo.NewDocumentStore(p.Database(), cfg.Mongo.DocumentCollection, cfg.Retention)
		if err := ds.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
		}
		docs = ds
		files = mongo.NewFileStore(p.Database(), cfg.Mongo.FileBucket)
		pipelines = mongo.NewPipelineStore(p.Database(), cfg.Mongo.PipelineCollection)

	case config.BackendPostgres:
		var p *postgres.Provider
		err := connectWithRetry(ctx, "postgres", func() error {
			var err error
			p, err = newPostgresProvider(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)

		tables := postgres.Tables{
			Documents: cfg.Postgres.DocumentTable,
			Files:     cfg.Postgres.FileTable,
			Pipelines: cfg.Postgres.PipelineTable,
		}
		if err := postgres.EnsureSchema(ctx, p.Pool(), tables); err != nil {
			return nil, fmt.Errorf("failed to ensure postgres schema: %w", err)
		}
		docs = postgres.NewDocumentStore(p.Pool(), tables)
		files = postgres.NewFileStore(p.Pool(), tables.Files)
		pipelines = postgres.NewPipelineStore(p.Pool(), tables.Pipelines)

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}

	if cfg.Files == config.FilesMinio {
		var fs *minio.FileStore
		err := connectWithRetry(ctx, "minio", func() error {
			var err error
			fs, err = newMinioFileStore(ctx, cfg.Minio)
			return err
		})
		if err != nil {
			return nil, err
		}
		files = fs
		providers = append(providers, fs)
	}

	success = true
	slog.Info("Storage connector ready", "backend", cfg.Backend, "files", cfg.Files)
	return Compose(docs, files, pipelines, providers...), nil
}

func connectWithRetry(ctx context.Context, name string, connect func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectTimeout
	attempt := 1
	err := backoff.Retry(func() error {
		err := connect()
		if err != nil {
			slog.Info("Waiting for storage backend", "backend", name, "attempt", attempt, "error", err)
			attempt++
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	return nil
}
