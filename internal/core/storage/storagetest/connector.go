// Package storagetest holds the behaviour every storage backend must share.
// Backend packages call RunAll from their own tests.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// Options describe backend-specific identifiers used by the suite.
type Options struct {
	// MissingID is a well-formed id that does not exist in the store.
	MissingID string
	// InvalidID cannot be converted to the backend's native id. Empty skips
	// the conversion test.
	InvalidID string
}

// Constructor returns a fresh, empty connector for a single test.
type Constructor func(t *testing.T) types.Connector

// RunAll runs the shared connector tests.
func RunAll(t *testing.T, newConnector Constructor, opts Options) {
	t.Run("InsertAndClaim", func(t *testing.T) { InsertAndClaimTest(t, newConnector(t)) })
	t.Run("CombinedQueryNoMatch", func(t *testing.T) { CombinedQueryNoMatchTest(t, newConnector(t)) })
	t.Run("ConcurrentClaimSingleDocument", func(t *testing.T) { ConcurrentClaimSingleTest(t, newConnector(t)) })
	t.Run("ConcurrentClaimDisjoint", func(t *testing.T) { ConcurrentClaimDisjointTest(t, newConnector(t)) })
	t.Run("ClaimOrder", func(t *testing.T) { ClaimOrderTest(t, newConnector(t)) })
	t.Run("StagesClaimIndependently", func(t *testing.T) { StagesIndependentTest(t, newConnector(t)) })
	t.Run("Marks", func(t *testing.T) { MarkTest(t, newConnector(t), opts) })
	t.Run("MarkTouched", func(t *testing.T) { MarkTouchedTest(t, newConnector(t), opts) })
	t.Run("SaveAndDelete", func(t *testing.T) { SaveAndDeleteTest(t, newConnector(t), opts) })
	t.Run("FieldPartition", func(t *testing.T) { FieldPartitionTest(t, newConnector(t)) })
	t.Run("QueryByIDAndAction", func(t *testing.T) { QueryByIDAndActionTest(t, newConnector(t), opts) })
	t.Run("Files", func(t *testing.T) { FilesTest(t, newConnector(t)) })
	t.Run("Pipelines", func(t *testing.T) { PipelinesTest(t, newConnector(t)) })
	if opts.InvalidID != "" {
		t.Run("Conversion", func(t *testing.T) { ConversionTest(t, newConnector(t), opts) })
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewDocument builds a live ADD document with the given content keys set.
func NewDocument(keys ...string) *model.Document {
	doc := model.NewDocument(model.ActionAdd)
	for _, k := range keys {
		doc.Contents[k] = "value-" + k
	}
	return doc
}

func insert(t *testing.T, ctx context.Context, c types.Connector, docs ...*model.Document) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, c.Insert(ctx, d))
		require.NotEmpty(t, d.ID)
	}
}

func InsertAndClaimTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	insert(t, ctx, c, NewDocument("a"), NewDocument("b"), NewDocument("c"))

	all, err := c.GetDocuments(ctx, model.EmptyQuery(), 3)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	claimed, err := c.GetAndTag(ctx, model.EmptyQuery(), "stageA")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, []string{"stageA"}, claimed.TouchedBy)

	rest, err := c.GetDocuments(ctx, model.EmptyQuery().RequireNotTouchedByStage("stageA"), 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	for _, d := range rest {
		assert.NotEqual(t, claimed.ID, d.ID)
	}

	active, err := c.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), active)
}

func CombinedQueryNoMatchTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	touched := NewDocument()
	touched.Touch("test")
	touched.Touch("test2")
	insert(t, ctx, c, touched, NewDocument("exists"))

	q := model.EmptyQuery().
		RequireTouchedByStage("test").
		RequireNotTouchedByStage("test2").
		RequireContentFieldExists("exists")

	doc, err := c.GetDocument(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = c.GetDocument(ctx, model.EmptyQuery())
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func ConcurrentClaimSingleTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	insert(t, ctx, c, NewDocument("x"))

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*model.Document
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			doc, err := c.GetAndTag(ctx, model.EmptyQuery(), "stageA")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if doc != nil {
				winners = append(winners, doc)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, winners, 1)

	stored, err := c.GetDocument(ctx, model.EmptyQuery().RequireID(winners[0].ID))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"stageA"}, stored.TouchedBy)
}

func ConcurrentClaimDisjointTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	const total = 40
	for i := 0; i < total; i++ {
		insert(t, ctx, c, NewDocument())
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				doc, err := c.GetAndTag(ctx, model.EmptyQuery(), "worker")
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if doc == nil {
					return
				}
				mu.Lock()
				seen[doc.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func ClaimOrderTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	first, second := NewDocument("first"), NewDocument("second")
	insert(t, ctx, c, first, second)

	got, err := c.GetAndTag(ctx, model.EmptyQuery(), "s")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	got, err = c.GetAndTag(ctx, model.EmptyQuery(), "s")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	got, err = c.GetAndTag(ctx, model.EmptyQuery(), "s")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func StagesIndependentTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	doc := NewDocument()
	insert(t, ctx, c, doc)

	a, err := c.GetAndTag(ctx, model.EmptyQuery(), "a")
	require.NoError(t, err)
	require.NotNil(t, a)

	b, err := c.GetAndTag(ctx, model.EmptyQuery(), "b")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, doc.ID, b.ID)
	assert.ElementsMatch(t, []string{"a", "b"}, b.TouchedBy)

	touchedByA, err := c.GetDocuments(ctx, model.EmptyQuery().RequireTouchedByStage("a"), 10)
	require.NoError(t, err)
	assert.Len(t, touchedByA, 1)
}

func MarkTest(t *testing.T, c types.Connector, opts Options) {
	ctx := testContext(t)
	doc := NewDocument("body")
	other := NewDocument("body")
	insert(t, ctx, c, doc, other)

	claimed, err := c.GetAndTag(ctx, model.EmptyQuery().RequireID(doc.ID), "stageA")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	claimed.Contents["result"] = "done"
	ok, err := c.Mark(ctx, claimed, "stageA", model.StatusProcessed)
	require.NoError(t, err)
	assert.True(t, ok)

	// A repeated terminal mark succeeds and leaves the status alone.
	ok, err = c.Mark(ctx, claimed, "stageA", model.StatusProcessed)
	require.NoError(t, err)
	assert.True(t, ok)

	// A different terminal outcome no longer applies.
	ok, err = c.Mark(ctx, claimed, "stageA", model.StatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	gone, err := c.GetDocument(ctx, model.EmptyQuery().RequireID(doc.ID))
	require.NoError(t, err)
	assert.Nil(t, gone, "terminal documents are no longer live")

	active, err := c.ActiveCount(ctx)
	require.NoError(t, err)
	inactive, err := c.InactiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	assert.Equal(t, int64(1), inactive)

	// Pending keeps the document live and applies the carried changes.
	other.Contents["step"] = "one"
	ok, err = c.Mark(ctx, other, "stageB", model.StatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded, err := c.GetDocument(ctx, model.EmptyQuery().RequireID(other.ID))
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, "one", reloaded.Contents["step"])
	assert.True(t, reloaded.IsTouchedBy("stageB"))
	assert.Equal(t, model.StatusPending, reloaded.EffectiveStatus())

	missing := NewDocument()
	missing.ID = opts.MissingID
	ok, err = c.Mark(ctx, missing, "stageA", model.StatusProcessed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func MarkTouchedTest(t *testing.T, c types.Connector, opts Options) {
	ctx := testContext(t)
	doc := NewDocument()
	insert(t, ctx, c, doc)

	require.NoError(t, c.MarkTouched(ctx, doc.ID, "s1"))
	require.NoError(t, c.MarkTouched(ctx, doc.ID, "s1"))
	require.NoError(t, c.MarkTouched(ctx, opts.MissingID, "s1"))

	got, err := c.GetDocument(ctx, model.EmptyQuery().RequireTouchedByStage("s1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"s1"}, got.TouchedBy)

	claim, err := c.GetAndTag(ctx, model.EmptyQuery(), "s1")
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func SaveAndDeleteTest(t *testing.T, c types.Connector, opts Options) {
	ctx := testContext(t)
	doc := NewDocument("title")
	insert(t, ctx, c, doc)

	doc.Contents["title"] = "changed"
	doc.Metadata["ts"] = "2024"
	doc.Action = model.ActionUpdate
	ok, err := c.Save(ctx, doc)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.GetDocument(ctx, model.EmptyQuery().RequireID(doc.ID))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, doc.Equal(got))

	ok, err = c.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	missing := NewDocument()
	missing.ID = opts.MissingID
	ok, err = c.Save(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func FieldPartitionTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	insert(t, ctx, c, NewDocument("x"), NewDocument("y"), NewDocument("x", "y"), NewDocument())

	with, err := c.GetDocuments(ctx, model.EmptyQuery().RequireContentFieldExists("x"), 10)
	require.NoError(t, err)
	without, err := c.GetDocuments(ctx, model.EmptyQuery().RequireContentFieldNotExists("x"), 10)
	require.NoError(t, err)

	assert.Len(t, with, 2)
	assert.Len(t, without, 2)
	ids := map[string]bool{}
	for _, d := range append(with, without...) {
		assert.False(t, ids[d.ID], "documents overlap")
		ids[d.ID] = true
	}
	assert.Len(t, ids, 4)
}

func QueryByIDAndActionTest(t *testing.T, c types.Connector, opts Options) {
	ctx := testContext(t)
	add := NewDocument()
	del := model.NewDocument(model.ActionDelete)
	insert(t, ctx, c, add, del)

	got, err := c.GetDocument(ctx, model.EmptyQuery().RequireAction(model.ActionDelete))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, del.ID, got.ID)

	got, err = c.GetDocument(ctx, model.EmptyQuery().RequireID(add.ID))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, add.Equal(got))

	got, err = c.GetDocument(ctx, model.EmptyQuery().RequireID(opts.MissingID))
	require.NoError(t, err)
	assert.Nil(t, got)

	none, err := c.GetDocuments(ctx, model.EmptyQuery(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func FilesTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)
	doc := NewDocument()
	insert(t, ctx, c, doc)

	f := &model.DocumentFile{DocumentID: doc.ID, Name: "raw.txt", MimeType: "text/plain", Data: []byte("hello")}
	require.NoError(t, c.SaveFile(ctx, f))
	require.NoError(t, c.SaveFile(ctx, &model.DocumentFile{DocumentID: doc.ID, Name: "b.bin", Data: []byte{1, 2}}))

	got, err := c.GetFile(ctx, doc.ID, "raw.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, "text/plain", got.MimeType)

	names, err := c.GetFileNames(ctx, doc.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"raw.txt", "b.bin"}, names)

	files, err := c.GetFiles(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// Overwrite keeps a single attachment per name.
	require.NoError(t, c.SaveFile(ctx, &model.DocumentFile{DocumentID: doc.ID, Name: "raw.txt", Data: []byte("v2")}))
	got, err = c.GetFile(ctx, doc.ID, "raw.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v2"), got.Data)

	ok, err := c.DeleteFile(ctx, doc.ID, "raw.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.DeleteFile(ctx, doc.ID, "raw.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = c.GetFile(ctx, doc.ID, "raw.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.DeleteFiles(ctx, doc.ID))
	names, err = c.GetFileNames(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func PipelinesTest(t *testing.T, c types.Connector) {
	ctx := testContext(t)

	p, err := c.GetPipeline(ctx, model.MainPipeline)
	require.NoError(t, err)
	assert.Nil(t, p)

	in := &model.Pipeline{
		Name: model.MainPipeline,
		Stages: []model.Stage{
			{Name: "tika", Query: model.EmptyQuery().RequireNotTouchedByStage("tika"), Identity: model.Identity{Class: "Tika"}},
			{Name: "index", Group: "io", Query: model.EmptyQuery().RequireTouchedByStage("tika")},
		},
	}
	require.NoError(t, c.SavePipeline(ctx, in))

	out, err := c.GetPipeline(ctx, model.MainPipeline)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []string{"tika", "index"}, out.StageNames())
	stage, ok := out.Stage("index")
	require.True(t, ok)
	assert.Equal(t, "io", stage.Group)
	assert.Equal(t, in.Stages[1].Query.Key(), stage.Query.Key())
	assert.False(t, out.UpdatedAt.IsZero())

	in.Stages = in.Stages[:1]
	require.NoError(t, c.SavePipeline(ctx, in))
	out, err = c.GetPipeline(ctx, model.MainPipeline)
	require.NoError(t, err)
	assert.Equal(t, []string{"tika"}, out.StageNames())
}

func ConversionTest(t *testing.T, c types.Connector, opts Options) {
	ctx := testContext(t)
	doc := NewDocument()
	doc.ID = opts.InvalidID

	_, err := c.Mark(ctx, doc, "s", model.StatusProcessed)
	assert.ErrorIs(t, err, model.ErrConversion)

	_, err = c.GetDocument(ctx, model.EmptyQuery().RequireID(opts.InvalidID))
	assert.ErrorIs(t, err, model.ErrConversion)
}
