package storage

import (
	"context"

	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

type DocumentStore = types.DocumentStore
type FileStore = types.FileStore
type PipelineStore = types.PipelineStore
type Sweeper = types.Sweeper
type Connector = types.Connector

// MarkPending releases a document back to the pipeline with its changes applied.
func MarkPending(ctx context.Context, s DocumentStore, doc *model.Document, stage string) (bool, error) {
	return s.Mark(ctx, doc, stage, model.StatusPending)
}

func MarkProcessed(ctx context.Context, s DocumentStore, doc *model.Document, stage string) (bool, error) {
	return s.Mark(ctx, doc, stage, model.StatusProcessed)
}

func MarkFailed(ctx context.Context, s DocumentStore, doc *model.Document, stage string) (bool, error) {
	return s.Mark(ctx, doc, stage, model.StatusFailed)
}

func MarkDiscarded(ctx context.Context, s DocumentStore, doc *model.Document, stage string) (bool, error) {
	return s.Mark(ctx, doc, stage, model.StatusDiscarded)
}
