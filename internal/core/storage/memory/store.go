// Package memory implements an in-process store. It backs tests and
// single-binary deployments; nothing survives a restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

type archived struct {
	doc        *model.Document
	archivedAt time.Time
}

// Store keeps live documents in arrival order. ULIDs sort by creation
// time, which gives the oldest-first claim order other backends get from
// their primary keys.
type Store struct {
	mu sync.Mutex

	live     map[string]*model.Document
	order    []string // live ids in arrival order, compacted lazily
	stale    int
	inactive map[string]*archived
	expiry   []string // inactive ids in archive order

	files     map[string]map[string]*model.DocumentFile
	pipelines map[string]*model.Pipeline

	maxInactive int
	compiler    *compiler
	now         func() time.Time
}

var (
	_ types.Connector = (*Store)(nil)
	_ types.Sweeper   = (*Store)(nil)
)

// NewStore creates an empty store. maxInactive <= 0 keeps every archived document.
func NewStore(maxInactive int) (*Store, error) {
	c, err := newCompiler()
	if err != nil {
		return nil, err
	}
	return &Store{
		live:        make(map[string]*model.Document),
		inactive:    make(map[string]*archived),
		files:       make(map[string]map[string]*model.DocumentFile),
		pipelines:   make(map[string]*model.Pipeline),
		maxInactive: maxInactive,
		compiler:    c,
		now:         time.Now,
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

// scan calls fn for each live document matching q, in arrival order, until
// fn returns false. Callers must hold s.mu.
func (s *Store) scan(q model.Query, fn func(*model.Document) bool) error {
	if id, ok := q.ID(); ok {
		doc, found := s.live[id]
		if !found {
			return nil
		}
		match, err := s.matches(q, doc)
		if err != nil || !match {
			return err
		}
		fn(doc)
		return nil
	}

	prg, err := s.compiler.program(q)
	if err != nil {
		return err
	}
	for _, id := range s.order {
		doc, ok := s.live[id]
		if !ok {
			continue
		}
		match, err := evaluate(prg, doc)
		if err != nil {
			return fmt.Errorf("evaluate query: %w", err)
		}
		if match && !fn(doc) {
			return nil
		}
	}
	return nil
}

func (s *Store) matches(q model.Query, doc *model.Document) (bool, error) {
	prg, err := s.compiler.program(q)
	if err != nil {
		return false, err
	}
	return evaluate(prg, doc)
}

func (s *Store) GetDocument(ctx context.Context, q model.Query) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Document
	err := s.scan(q, func(doc *model.Document) bool {
		found = doc.Clone()
		return false
	})
	return found, err
}

func (s *Store) GetDocuments(ctx context.Context, q model.Query, limit int) ([]*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*model.Document{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Document, 0, min(limit, len(s.live)))
	err := s.scan(q, func(doc *model.Document) bool {
		out = append(out, doc.Clone())
		return len(out) < limit
	})
	return out, err
}

func (s *Store) GetAndTag(ctx context.Context, q model.Query, stage string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Document
	err := s.scan(q.RequireNotTouchedByStage(stage), func(doc *model.Document) bool {
		doc.Touch(stage)
		found = doc.Clone()
		return false
	})
	return found, err
}

func (s *Store) MarkTouched(ctx context.Context, id string, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.live[id]; ok {
		doc.Touch(stage)
	}
	return nil
}

func (s *Store) Mark(ctx context.Context, doc *model.Document, stage string, status model.Status) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if doc.ID == "" {
		return false, fmt.Errorf("%w: document has no id", model.ErrConversion)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.live[doc.ID]; ok {
		applyChanges(current, doc)
		current.Touch(stage)
		if status.IsTerminal() {
			current.Status = status
			s.archive(current)
		}
		return true, nil
	}

	if rec, ok := s.inactive[doc.ID]; ok && rec.doc.Status == status {
		applyChanges(rec.doc, doc)
		rec.doc.Touch(stage)
		return true, nil
	}
	return false, nil
}

// archive moves a live document to the inactive set. Callers must hold s.mu.
func (s *Store) archive(doc *model.Document) {
	delete(s.live, doc.ID)
	s.stale++
	s.inactive[doc.ID] = &archived{doc: doc, archivedAt: s.now()}
	s.expiry = append(s.expiry, doc.ID)
	s.compact()

	if s.maxInactive <= 0 {
		return
	}
	for len(s.inactive) > s.maxInactive && len(s.expiry) > 0 {
		id := s.expiry[0]
		s.expiry = s.expiry[1:]
		if _, ok := s.inactive[id]; ok {
			delete(s.inactive, id)
			delete(s.files, id)
		}
	}
}

// compact drops removed ids from the arrival order once they dominate it.
func (s *Store) compact() {
	if s.stale < 64 || s.stale < len(s.order)/2 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.live[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	s.stale = 0
}

func applyChanges(dst, src *model.Document) {
	if src.Action != "" {
		dst.Action = src.Action
	}
	if src.Contents != nil {
		dst.Contents = src.Clone().Contents
	}
	if src.Metadata != nil {
		dst.Metadata = src.Clone().Metadata
	}
}

func (s *Store) Insert(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := doc.Clone()
	stored.Status = model.StatusPending

	s.mu.Lock()
	defer s.mu.Unlock()

	stored.ID = ulid.Make().String()
	s.live[stored.ID] = stored
	s.order = append(s.order, stored.ID)

	doc.ID = stored.ID
	doc.Status = model.StatusPending
	return nil
}

func (s *Store) Save(ctx context.Context, doc *model.Document) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if doc.ID == "" {
		return false, fmt.Errorf("%w: document has no id", model.ErrConversion)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.live[doc.ID]
	if !ok {
		return false, nil
	}
	applyChanges(current, doc)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[id]; ok {
		delete(s.live, id)
		s.stale++
		s.compact()
		return true, nil
	}
	if _, ok := s.inactive[id]; ok {
		delete(s.inactive, id)
		return true, nil
	}
	return false, nil
}

func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.live)), nil
}

func (s *Store) InactiveCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.inactive)), nil
}

// Sweep evicts documents archived before the given time.
func (s *Store) Sweep(ctx context.Context, archivedBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	kept := s.expiry[:0]
	for _, id := range s.expiry {
		rec, ok := s.inactive[id]
		if !ok {
			continue
		}
		if rec.archivedAt.Before(archivedBefore) {
			delete(s.inactive, id)
			delete(s.files, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.expiry = kept
	return removed, nil
}

func (s *Store) GetPipeline(ctx context.Context, name string) (*model.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[name]
	if !ok {
		return nil, nil
	}
	return clonePipeline(p)
}

func (s *Store) SavePipeline(ctx context.Context, p *model.Pipeline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := clonePipeline(p)
	if err != nil {
		return err
	}
	cp.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[cp.Name] = cp
	return nil
}

func clonePipeline(p *model.Pipeline) (*model.Pipeline, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline: %v", model.ErrConversion, err)
	}
	var out model.Pipeline
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: pipeline: %v", model.ErrConversion, err)
	}
	return &out, nil
}
