package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syntrixbase/stagehand/internal/core/storage/config"
)

// Provider owns the connection pool.
type Provider struct {
	pool *pgxpool.Pool
}

// NewProvider opens a pool for cfg.DSN and verifies it with a ping.
func NewProvider(ctx context.Context, cfg config.PostgresConfig) (*Provider, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapError(err)
	}
	return &Provider{pool: pool}, nil
}

func (p *Provider) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Provider) Ping(ctx context.Context) error {
	return wrapError(p.pool.Ping(ctx))
}

func (p *Provider) Close(context.Context) error {
	p.pool.Close()
	return nil
}
