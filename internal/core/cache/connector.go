package cache

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/metrics"
	"github.com/syntrixbase/stagehand/pkg/model"
	"golang.org/x/sync/singleflight"
)

// Connector serves GetDocument and GetDocuments from a Cache and forwards
// everything else to the wrapped connector.
type Connector struct {
	storage.Connector
	cache Cache
	// share is false for NoopCache, whose epoch never advances.
	share bool
	group singleflight.Group
}

var (
	_ storage.Connector = (*Connector)(nil)
	_ storage.Sweeper   = (*Connector)(nil)
)

// NewConnector wraps inner with c.
func NewConnector(inner storage.Connector, c Cache) *Connector {
	if c == nil {
		c = NoopCache{}
	}
	_, noop := c.(NoopCache)
	return &Connector{Connector: inner, cache: c, share: !noop}
}

// Cache returns the cache used by the connector.
func (c *Connector) Cache() Cache {
	return c.cache
}

func cacheKey(op string, q model.Query, limit int) string {
	return op + "|" + strconv.Itoa(limit) + "|" + q.Key()
}

func cloneDocs(docs []*model.Document) []*model.Document {
	out := make([]*model.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

// read returns the cached result for key or loads it. Concurrent misses
// for the same key and epoch share one store round trip, so a read that
// starts after an invalidation never joins a load that began before it.
func (c *Connector) read(ctx context.Context, key string, q model.Query, load func(context.Context) ([]*model.Document, error)) ([]*model.Document, error) {
	if docs, ok := c.cache.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cloneDocs(docs), nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	if !c.share {
		return load(ctx)
	}

	epoch := c.cache.Epoch()
	flight := key + "#" + strconv.FormatUint(epoch, 10)
	v, err, shared := c.group.Do(flight, func() (any, error) {
		return c.fill(ctx, key, q, epoch, load)
	})
	if err != nil && shared && isCancellation(err) && ctx.Err() == nil {
		// The leader's caller went away; this caller is still waiting.
		v, err = c.fill(ctx, key, q, epoch, load)
	}
	if err != nil {
		return nil, err
	}
	return cloneDocs(v.([]*model.Document)), nil
}

func (c *Connector) fill(ctx context.Context, key string, q model.Query, epoch uint64, load func(context.Context) ([]*model.Document, error)) ([]*model.Document, error) {
	docs, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, q, docs, epoch)
	return docs, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Connector) GetDocument(ctx context.Context, q model.Query) (*model.Document, error) {
	docs, err := c.read(ctx, cacheKey("one", q, 1), q, func(ctx context.Context) ([]*model.Document, error) {
		doc, err := c.Connector.GetDocument(ctx, q)
		if err != nil || doc == nil {
			return nil, err
		}
		return []*model.Document{doc}, nil
	})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (c *Connector) GetDocuments(ctx context.Context, q model.Query, limit int) ([]*model.Document, error) {
	return c.read(ctx, cacheKey("many", q, limit), q, func(ctx context.Context) ([]*model.Document, error) {
		docs, err := c.Connector.GetDocuments(ctx, q, limit)
		if docs == nil && err == nil {
			docs = []*model.Document{}
		}
		return docs, err
	})
}

func holds(docs []*model.Document, id string) bool {
	return slices.ContainsFunc(docs, func(d *model.Document) bool { return d.ID == id })
}

func (c *Connector) invalidate(op string, stale func(q model.Query, docs []*model.Document) bool) {
	if n := c.cache.Invalidate(stale); n > 0 {
		metrics.CacheInvalidations.WithLabelValues(op).Add(float64(n))
	}
}

// GetAndTag always reaches the store. The returned document carries its
// new touched set, so queries it now satisfies are matched exactly.
func (c *Connector) GetAndTag(ctx context.Context, q model.Query, stage string) (*model.Document, error) {
	doc, err := c.Connector.GetAndTag(ctx, q, stage)
	if err != nil || doc == nil {
		return doc, err
	}
	c.invalidate("claim", func(eq model.Query, docs []*model.Document) bool {
		return holds(docs, doc.ID) || eq.Matches(doc)
	})
	return doc, nil
}

func (c *Connector) MarkTouched(ctx context.Context, id string, stage string) error {
	if err := c.Connector.MarkTouched(ctx, id, stage); err != nil {
		return err
	}
	c.invalidate("touch", func(eq model.Query, docs []*model.Document) bool {
		return holds(docs, id) || eq.HasStagePredicate(stage)
	})
	return nil
}

func (c *Connector) Mark(ctx context.Context, doc *model.Document, stage string, status model.Status) (bool, error) {
	ok, err := c.Connector.Mark(ctx, doc, stage, status)
	if err != nil || !ok {
		return ok, err
	}
	probes := probesFor(doc, status)
	c.invalidate("mark", func(eq model.Query, docs []*model.Document) bool {
		return holds(docs, doc.ID) || mayMatchAny(eq, probes)
	})
	return true, nil
}

func (c *Connector) Insert(ctx context.Context, doc *model.Document) error {
	if err := c.Connector.Insert(ctx, doc); err != nil {
		return err
	}
	c.invalidate("insert", func(eq model.Query, _ []*model.Document) bool {
		return eq.Matches(doc)
	})
	return nil
}

func (c *Connector) Save(ctx context.Context, doc *model.Document) (bool, error) {
	ok, err := c.Connector.Save(ctx, doc)
	if err != nil || !ok {
		return ok, err
	}
	probes := probesFor(doc, model.StatusPending)
	c.invalidate("save", func(eq model.Query, docs []*model.Document) bool {
		return holds(docs, doc.ID) || mayMatchAny(eq, probes)
	})
	return true, nil
}

func (c *Connector) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := c.Connector.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	c.invalidate("delete", func(_ model.Query, docs []*model.Document) bool {
		return holds(docs, id)
	})
	return true, nil
}

// probesFor returns the states a written document may now be in. The stored
// touched set is unknown, and an empty action keeps whichever action the
// store had, so every action is tried.
func probesFor(doc *model.Document, status model.Status) []*model.Document {
	if status.IsTerminal() {
		return nil
	}
	actions := []model.Action{doc.Action}
	if doc.Action == "" {
		actions = []model.Action{model.ActionAdd, model.ActionUpdate, model.ActionDelete}
	}
	probes := make([]*model.Document, 0, len(actions))
	for _, a := range actions {
		p := &model.Document{
			ID:       doc.ID,
			Action:   a,
			Status:   model.StatusPending,
			Contents: doc.Contents,
			Metadata: doc.Metadata,
		}
		probes = append(probes, p)
	}
	return probes
}

func mayMatchAny(q model.Query, probes []*model.Document) bool {
	return slices.ContainsFunc(probes, q.MayMatch)
}

// Sweep forwards to the wrapped store when it evicts archived documents.
// Cached results only ever hold live documents, so nothing is invalidated.
func (c *Connector) Sweep(ctx context.Context, archivedBefore time.Time) (int64, error) {
	s, ok := c.Connector.(storage.Sweeper)
	if !ok {
		return 0, nil
	}
	return s.Sweep(ctx, archivedBefore)
}
