package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/core/storage/memory"
	"github.com/syntrixbase/stagehand/internal/core/storage/storagetest"
	"github.com/syntrixbase/stagehand/pkg/model"
)

func newMemoryConnector(t *testing.T) storage.Connector {
	t.Helper()
	store, err := memory.NewStore(100)
	require.NoError(t, err)
	return storage.Compose(store, store, store, store)
}

// countingConnector counts reads that reach the store.
type countingConnector struct {
	storage.Connector
	reads atomic.Int64
	gate  chan struct{}
}

func (c *countingConnector) GetDocument(ctx context.Context, q model.Query) (*model.Document, error) {
	c.reads.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Connector.GetDocument(ctx, q)
}

func (c *countingConnector) GetDocuments(ctx context.Context, q model.Query, limit int) ([]*model.Document, error) {
	c.reads.Add(1)
	return c.Connector.GetDocuments(ctx, q, limit)
}

func TestMemoryCache_ExpiryAndEviction(t *testing.T) {
	c := NewMemoryCache(2, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	q := model.EmptyQuery()
	c.Put("a", q, nil, c.Epoch())
	now = now.Add(10 * time.Millisecond)
	c.Put("b", q, nil, c.Epoch())
	now = now.Add(10 * time.Millisecond)
	c.Put("c", q, nil, c.Epoch())

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry is evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("c")
	assert.False(t, ok, "expired entry is not served")
}

func TestMemoryCache_StaleEpochIsNotStored(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	epoch := c.Epoch()
	c.Invalidate(func(model.Query, []*model.Document) bool { return false })
	c.Put("k", model.EmptyQuery(), nil, epoch)
	assert.Zero(t, c.Len())

	c.Put("k", model.EmptyQuery(), nil, c.Epoch())
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestNew(t *testing.T) {
	assert.IsType(t, NoopCache{}, New(Config{}))
	assert.IsType(t, &MemoryCache{}, New(Config{Enabled: true, TTL: time.Second, Size: 5}))
}

func TestConfig(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig().TTL, cfg.TTL)
	assert.Equal(t, 1000, cfg.Size)

	t.Setenv("STAGEHAND_CACHE_ENABLED", "true")
	cfg.ApplyEnvOverrides()
	assert.True(t, cfg.Enabled)
	assert.NoError(t, cfg.Validate())

	cfg.TTL = -1
	assert.Error(t, cfg.Validate())
}

// The decorated connector must behave exactly like the store it wraps.
func TestConnector_SharedSuite(t *testing.T) {
	for name, c := range map[string]func() Cache{
		"noop":   func() Cache { return NoopCache{} },
		"memory": func() Cache { return NewMemoryCache(100, time.Minute) },
	} {
		t.Run(name, func(t *testing.T) {
			storagetest.RunAll(t, func(t *testing.T) storage.Connector {
				return NewConnector(newMemoryConnector(t), c())
			}, storagetest.Options{MissingID: "01ARZ3NDEKTSV4RRFFQ69G5FAV"})
		})
	}
}

func TestConnector_ServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	inner := &countingConnector{Connector: newMemoryConnector(t)}
	c := NewConnector(inner, NewMemoryCache(100, time.Minute))

	doc := storagetest.NewDocument("x")
	require.NoError(t, c.Insert(ctx, doc))

	q := model.EmptyQuery().RequireContentFieldExists("x")
	for i := 0; i < 3; i++ {
		got, err := c.GetDocument(ctx, q)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, doc.ID, got.ID)
	}
	assert.Equal(t, int64(1), inner.reads.Load())

	// Returned documents are copies.
	got, _ := c.GetDocument(ctx, q)
	got.Contents["x"] = "mutated"
	again, _ := c.GetDocument(ctx, q)
	assert.Equal(t, "value-x", again.Contents["x"])
}

func TestConnector_ClaimThenFetchNeverReturnsClaimed(t *testing.T) {
	ctx := context.Background()
	c := NewConnector(newMemoryConnector(t), NewMemoryCache(100, time.Minute))

	doc := storagetest.NewDocument()
	require.NoError(t, c.Insert(ctx, doc))

	notTouched := model.EmptyQuery().RequireNotTouchedByStage("s")
	touched := model.EmptyQuery().RequireTouchedByStage("s")

	// Warm both the positive and the negative entry.
	got, err := c.GetDocument(ctx, notTouched)
	require.NoError(t, err)
	require.NotNil(t, got)
	got, err = c.GetDocument(ctx, touched)
	require.NoError(t, err)
	require.Nil(t, got)

	claimed, err := c.GetAndTag(ctx, model.EmptyQuery(), "s")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	got, err = c.GetDocument(ctx, notTouched)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.GetDocument(ctx, touched)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, claimed.ID, got.ID)
}

// snapshotConnector reads the store before blocking its first GetDocument,
// so that call returns a result older than any write made while it waits.
type snapshotConnector struct {
	storage.Connector
	reads  atomic.Int64
	loaded chan struct{}
	gate   chan struct{}
}

func newSnapshotConnector(t *testing.T) *snapshotConnector {
	return &snapshotConnector{
		Connector: newMemoryConnector(t),
		loaded:    make(chan struct{}),
		gate:      make(chan struct{}),
	}
}

func (c *snapshotConnector) GetDocument(ctx context.Context, q model.Query) (*model.Document, error) {
	doc, err := c.Connector.GetDocument(ctx, q)
	if c.reads.Add(1) == 1 {
		close(c.loaded)
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return doc, err
}

type readResult struct {
	doc *model.Document
	err error
}

func TestConnector_FetchAfterClaimSkipsEarlierLoad(t *testing.T) {
	for name, newCache := range map[string]func() Cache{
		"noop":   func() Cache { return NoopCache{} },
		"memory": func() Cache { return NewMemoryCache(100, time.Minute) },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inner := newSnapshotConnector(t)
			c := NewConnector(inner, newCache())

			doc := storagetest.NewDocument()
			require.NoError(t, c.Insert(ctx, doc))
			notTouched := model.EmptyQuery().RequireNotTouchedByStage("s")

			first := make(chan readResult, 1)
			go func() {
				d, err := c.GetDocument(ctx, notTouched)
				first <- readResult{d, err}
			}()
			<-inner.loaded

			claimed, err := c.GetAndTag(ctx, model.EmptyQuery(), "s")
			require.NoError(t, err)
			require.NotNil(t, claimed)

			second := make(chan readResult, 1)
			go func() {
				d, err := c.GetDocument(ctx, notTouched)
				second <- readResult{d, err}
			}()
			time.Sleep(20 * time.Millisecond)
			close(inner.gate)

			after := <-second
			require.NoError(t, after.err)
			assert.Nil(t, after.doc, "read issued after the claim returned the claimed document")
			require.NoError(t, (<-first).err)

			// The earlier load must not have been cached either.
			got, err := c.GetDocument(ctx, notTouched)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestConnector_CanceledLeaderDoesNotFailFollower(t *testing.T) {
	inner := newSnapshotConnector(t)
	c := NewConnector(inner, NewMemoryCache(100, time.Minute))

	doc := storagetest.NewDocument()
	require.NoError(t, c.Insert(context.Background(), doc))
	q := model.EmptyQuery()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan readResult, 1)
	go func() {
		d, err := c.GetDocument(leaderCtx, q)
		leader <- readResult{d, err}
	}()
	<-inner.loaded

	followerCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	follower := make(chan readResult, 1)
	go func() {
		d, err := c.GetDocument(followerCtx, q)
		follower <- readResult{d, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	assert.ErrorIs(t, (<-leader).err, context.Canceled)
	got := <-follower
	require.NoError(t, got.err)
	require.NotNil(t, got.doc)
	assert.Equal(t, doc.ID, got.doc.ID)
}

func TestConnector_SweepForwardsToStore(t *testing.T) {
	ctx := context.Background()
	c := NewConnector(newMemoryConnector(t), NewMemoryCache(100, time.Minute))

	done := storagetest.NewDocument()
	live := storagetest.NewDocument("x")
	require.NoError(t, c.Insert(ctx, done))
	require.NoError(t, c.Insert(ctx, live))
	ok, err := c.Mark(ctx, done, "output", model.StatusProcessed)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := c.GetDocument(ctx, model.EmptyQuery().RequireContentFieldExists("x"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 1, c.Cache().Len())

	n, err := c.Sweep(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, c.Cache().Len())
}

func TestConnector_WritesInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewConnector(newMemoryConnector(t), NewMemoryCache(100, time.Minute))

	doc := storagetest.NewDocument()
	require.NoError(t, c.Insert(ctx, doc))

	withTitle := model.EmptyQuery().RequireContentFieldExists("title")
	got, err := c.GetDocument(ctx, withTitle)
	require.NoError(t, err)
	require.Nil(t, got)

	// A pending mark that adds the field makes the cached miss stale.
	doc.Contents["title"] = "t"
	ok, err := c.Mark(ctx, doc, "enrich", model.StatusPending)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = c.GetDocument(ctx, withTitle)
	require.NoError(t, err)
	require.NotNil(t, got)

	// MarkTouched drops entries that constrain the stage.
	byStage := model.EmptyQuery().RequireTouchedByStage("late")
	got, err = c.GetDocument(ctx, byStage)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, c.MarkTouched(ctx, doc.ID, "late"))
	got, err = c.GetDocument(ctx, byStage)
	require.NoError(t, err)
	require.NotNil(t, got)

	// A terminal mark removes the document from cached results.
	ok, err = c.Mark(ctx, doc, "done", model.StatusProcessed)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = c.GetDocument(ctx, withTitle)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Inserts refresh negative results they satisfy.
	list, err := c.GetDocuments(ctx, model.EmptyQuery(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, c.Insert(ctx, storagetest.NewDocument()))
	list, err = c.GetDocuments(ctx, model.EmptyQuery(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err = c.Delete(ctx, list[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	list, err = c.GetDocuments(ctx, model.EmptyQuery(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConnector_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingConnector{Connector: newMemoryConnector(t), gate: make(chan struct{})}
	c := NewConnector(inner, NewMemoryCache(100, time.Minute))

	const readers = 8
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetDocument(ctx, model.EmptyQuery())
			assert.NoError(t, err)
		}()
	}
	// Let the leader block in the store, then release it.
	require.Eventually(t, func() bool { return inner.reads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	assert.Less(t, inner.reads.Load(), int64(readers))
}

func TestNoopCache_NeverServes(t *testing.T) {
	ctx := context.Background()
	inner := &countingConnector{Connector: newMemoryConnector(t)}
	c := NewConnector(inner, nil)

	for i := 0; i < 3; i++ {
		_, err := c.GetDocument(ctx, model.EmptyQuery())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.reads.Load())
	assert.Zero(t, c.Cache().Len())
}
