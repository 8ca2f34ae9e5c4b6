// Package worker runs the stage side of the dispatch protocol: claim a
// document, process it, report the outcome, and back off while idle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/syntrixbase/stagehand/pkg/client"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// Client is the transport a worker pulls from. Both client.HTTPClient and
// client.MQClient implement it.
type Client interface {
	Claim(ctx context.Context, q model.Query) (*model.Document, error)
	Mark(ctx context.Context, doc *model.Document, outcome model.Status) (bool, error)
}

// Processor transforms one claimed document in place and returns its
// outcome. An error marks the document FAILED.
type Processor interface {
	Process(ctx context.Context, doc *model.Document) (model.Status, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, doc *model.Document) (model.Status, error)

func (f ProcessorFunc) Process(ctx context.Context, doc *model.Document) (model.Status, error) {
	return f(ctx, doc)
}

// ErrorMetadataKey holds the processor error on documents marked FAILED.
const ErrorMetadataKey = "error"

// Config controls the poll loop.
type Config struct {
	Query model.Query
	// IdleMin and IdleMax bound the exponential wait between empty polls.
	IdleMin time.Duration
	IdleMax time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default poll settings for the empty query.
func DefaultConfig() Config {
	return Config{
		Query:   model.EmptyQuery(),
		IdleMin: 100 * time.Millisecond,
		IdleMax: 5 * time.Second,
	}
}

// Worker polls for work on behalf of one stage.
type Worker struct {
	client    Client
	processor Processor
	config    Config
	logger    *slog.Logger
}

// New creates a worker. Zero config durations take their defaults.
func New(c Client, p Processor, cfg Config) *Worker {
	defaults := DefaultConfig()
	if cfg.IdleMin <= 0 {
		cfg.IdleMin = defaults.IdleMin
	}
	if cfg.IdleMax < cfg.IdleMin {
		cfg.IdleMax = max(defaults.IdleMax, cfg.IdleMin)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		client:    c,
		processor: p,
		config:    cfg,
		logger:    logger.With("component", "worker"),
	}
}

func (w *Worker) idleBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.IdleMin
	b.MaxInterval = w.config.IdleMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run polls until ctx is cancelled. A claimed document is always marked
// before the next poll, even when ctx is cancelled during processing.
func (w *Worker) Run(ctx context.Context) error {
	b := w.idleBackOff()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		worked, err := w.Step(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			w.logger.Warn("Poll failed", "error", err)
		case worked:
			b.Reset()
			continue
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Step claims and handles at most one document. It reports whether a
// document was claimed. A receive timeout counts as no work.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	doc, err := w.client.Claim(ctx, w.config.Query)
	if errors.Is(err, client.ErrTryAgain) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if doc == nil {
		return false, nil
	}

	outcome, perr := w.process(ctx, doc)
	if perr != nil {
		w.logger.Warn("Processing failed", "id", doc.ID, "error", perr)
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[ErrorMetadataKey] = perr.Error()
		outcome = model.StatusFailed
	}

	markCtx := context.WithoutCancel(ctx)
	ok, err := w.client.Mark(markCtx, doc, outcome)
	if err != nil {
		return true, fmt.Errorf("mark %s %s: %w", doc.ID, outcome, err)
	}
	if !ok {
		w.logger.Warn("Marked document no longer exists", "id", doc.ID, "status", outcome)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, doc *model.Document) (outcome model.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	outcome, err = w.processor.Process(ctx, doc)
	if err == nil && !outcome.Valid() {
		err = fmt.Errorf("%w: processor returned status %q", model.ErrMalformedInput, outcome)
	}
	return outcome, err
}
