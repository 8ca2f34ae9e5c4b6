package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// Provider represents a physical connection to a storage backend.
type Provider interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// composite joins independently configured document, file and pipeline
// stores into one Connector. Files may live in a different system than
// documents (e.g. MongoDB documents with MinIO attachments).
type composite struct {
	DocumentStore
	FileStore
	PipelineStore

	providers []Provider
}

// Compose builds a Connector. Providers are pinged in order and closed in
// reverse order.
func Compose(docs DocumentStore, files FileStore, pipelines PipelineStore, providers ...Provider) Connector {
	return &composite{
		DocumentStore: docs,
		FileStore:     files,
		PipelineStore: pipelines,
		providers:     providers,
	}
}

// Delete removes the document and then its attachments.
func (c *composite) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := c.DocumentStore.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.FileStore.DeleteFiles(ctx, id); err != nil {
		return true, fmt.Errorf("delete files of %s: %w", id, err)
	}
	return true, nil
}

// Sweep forwards to the document store when it evicts archived documents itself.
func (c *composite) Sweep(ctx context.Context, archivedBefore time.Time) (int64, error) {
	if s, ok := c.DocumentStore.(Sweeper); ok {
		return s.Sweep(ctx, archivedBefore)
	}
	return 0, nil
}

func (c *composite) Ping(ctx context.Context) error {
	for _, p := range c.providers {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", model.ErrDatabaseUnavailable, err)
		}
	}
	return nil
}

func (c *composite) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.providers) - 1; i >= 0; i-- {
		if err := c.providers[i].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
