package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// PipelineStore keeps each pipeline's JSON form in a jsonb column.
type PipelineStore struct {
	pool  *pgxpool.Pool
	table string
	now   func() time.Time
}

var _ types.PipelineStore = (*PipelineStore)(nil)

func NewPipelineStore(pool *pgxpool.Pool, table string) *PipelineStore {
	return &PipelineStore{pool: pool, table: quote(table), now: time.Now}
}

func (s *PipelineStore) GetPipeline(ctx context.Context, name string) (*model.Pipeline, error) {
	query, args, err := psql.Select("definition", "updated_at").From(s.table).
		Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		def       []byte
		updatedAt time.Time
	)
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&def, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapError(err)
	}

	var p model.Pipeline
	if err := json.Unmarshal(def, &p); err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %v", model.ErrConversion, name, err)
	}
	p.Name = name
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}

func (s *PipelineStore) SavePipeline(ctx context.Context, p *model.Pipeline) error {
	stored := *p
	stored.UpdatedAt = time.Time{}
	def, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("%w: pipeline %s: %v", model.ErrConversion, p.Name, err)
	}

	query, args, err := psql.Insert(s.table).Columns("name", "definition", "updated_at").
		Values(p.Name, def, s.now().UTC()).
		Suffix("ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return wrapError(err)
}
