// Package orchestrator holds the authoritative pipeline definitions. It
// imports an optional pipeline file at startup, then polls the pipeline
// store and swaps in new snapshots as they appear.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// Orchestrator serves read-only snapshots of the main and debug pipelines.
type Orchestrator struct {
	store  storage.PipelineStore
	config Config
	logger *slog.Logger

	main  atomic.Pointer[model.Pipeline]
	debug atomic.Pointer[model.Pipeline]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator over store.
func New(store storage.PipelineStore, config Config, logger *slog.Logger) *Orchestrator {
	config.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		config: config,
		logger: logger.With("component", "orchestrator"),
	}
}

// Init imports the configured pipeline file, if any, and loads the first
// snapshot.
func (o *Orchestrator) Init(ctx context.Context) error {
	if o.config.File != "" {
		p, err := LoadFile(o.config.File)
		if err != nil {
			return err
		}
		if err := o.store.SavePipeline(ctx, p); err != nil {
			return fmt.Errorf("failed to import pipeline: %w", err)
		}
		o.logger.Info("Imported pipeline", "file", o.config.File, "name", p.Name, "stages", p.StageNames())
	}
	_, err := o.Refresh(ctx)
	return err
}

// Apply validates and stores p, then refreshes the snapshot.
func (o *Orchestrator) Apply(ctx context.Context, p *model.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := o.store.SavePipeline(ctx, p); err != nil {
		return err
	}
	_, err := o.Refresh(ctx)
	return err
}

// Refresh reloads both pipelines and reports whether either changed.
func (o *Orchestrator) Refresh(ctx context.Context) (bool, error) {
	main, err := o.store.GetPipeline(ctx, model.MainPipeline)
	if err != nil {
		return false, fmt.Errorf("failed to load pipeline: %w", err)
	}
	debug, err := o.store.GetPipeline(ctx, model.DebugPipeline)
	if err != nil {
		return false, fmt.Errorf("failed to load debug pipeline: %w", err)
	}

	changed := o.swap(&o.main, main)
	if o.swap(&o.debug, debug) {
		changed = true
	}
	return changed, nil
}

// swap installs next unless it is unchanged and logs stage set changes.
func (o *Orchestrator) swap(slot *atomic.Pointer[model.Pipeline], next *model.Pipeline) bool {
	prev := slot.Load()
	if samePipeline(prev, next) {
		return false
	}
	slot.Store(next)

	name := "(none)"
	if next != nil {
		name = next.Name
	} else if prev != nil {
		name = prev.Name
	}
	added, removed := stageDiff(prev.StageNames(), next.StageNames())
	o.logger.Info("Pipeline updated", "name", name, "added", added, "removed", removed)
	return true
}

func samePipeline(a, b *model.Pipeline) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UpdatedAt.Equal(b.UpdatedAt) && slices.Equal(a.StageNames(), b.StageNames())
}

func stageDiff(prev, next []string) (added, removed []string) {
	for _, n := range next {
		if !slices.Contains(prev, n) {
			added = append(added, n)
		}
	}
	for _, n := range prev {
		if !slices.Contains(next, n) {
			removed = append(removed, n)
		}
	}
	return added, removed
}

// Pipeline returns the current main pipeline, or nil.
func (o *Orchestrator) Pipeline() *model.Pipeline {
	return o.main.Load()
}

// DebugPipeline returns the current debug pipeline, or nil.
func (o *Orchestrator) DebugPipeline() *model.Pipeline {
	return o.debug.Load()
}

// Stage looks a stage up in the main pipeline, then in the debug pipeline.
func (o *Orchestrator) Stage(name string) (model.Stage, bool) {
	if s, ok := o.main.Load().Stage(name); ok {
		return s, true
	}
	return o.debug.Load().Stage(name)
}

// Start runs the refresh loop until Stop or ctx cancellation.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runLoop(loopCtx)
	o.logger.Info("Pipeline refresh started", "interval", o.config.PollInterval)
	return nil
}

// Stop stops the refresh loop.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.cancel()
	o.running = false
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runLoop(ctx context.Context) {
	defer o.wg.Done()

	if o.config.PollInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("Pipeline refresh failed", "error", err)
			}
		}
	}
}
