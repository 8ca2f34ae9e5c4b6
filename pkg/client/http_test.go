package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/stagehand/internal/core/cache"
	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/core/storage/memory"
	"github.com/syntrixbase/stagehand/internal/dispatch"
	"github.com/syntrixbase/stagehand/internal/transport/rest"
	"github.com/syntrixbase/stagehand/pkg/model"
)

type staticPipelines struct {
	main *model.Pipeline
}

func (s staticPipelines) Pipeline() *model.Pipeline      { return s.main }
func (s staticPipelines) DebugPipeline() *model.Pipeline { return nil }
func (s staticPipelines) Stage(name string) (model.Stage, bool) {
	return s.main.Stage(name)
}

func newTestConnector(t *testing.T) storage.Connector {
	t.Helper()
	store, err := memory.NewStore(100)
	require.NoError(t, err)
	return cache.NewConnector(storage.Compose(store, store, store, store), cache.NewMemoryCache(100, time.Minute))
}

func newTestServer(t *testing.T) (*httptest.Server, storage.Connector) {
	t.Helper()
	conn := newTestConnector(t)
	svc := dispatch.NewService(conn, dispatch.Config{OperationTimeout: time.Second}, nil)
	pipelines := staticPipelines{main: &model.Pipeline{
		Name:   model.MainPipeline,
		Stages: []model.Stage{{Name: "tika", Query: model.EmptyQuery().RequireTouchedByStage("input")}},
	}}

	mux := http.NewServeMux()
	rest.NewHandler(svc, pipelines).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, conn
}

func insertDocument(t *testing.T, conn storage.Connector) *model.Document {
	t.Helper()
	doc := model.NewDocument(model.ActionAdd)
	doc.Contents["title"] = "a"
	require.NoError(t, conn.Insert(context.Background(), doc))
	return doc
}

func TestNewHTTPClient_InvalidStage(t *testing.T) {
	_, err := NewHTTPClient("http://localhost", "a b", HTTPOptions{})
	assert.ErrorIs(t, err, model.ErrInvalidStage)
}

func TestHTTPClient_ClaimAndMark(t *testing.T) {
	ctx := context.Background()
	srv, conn := newTestServer(t)
	doc := insertDocument(t, conn)

	c, err := NewHTTPClient(srv.URL, "tika", HTTPOptions{})
	require.NoError(t, err)

	claimed, err := c.Claim(ctx, model.EmptyQuery())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, doc.ID, claimed.ID)
	assert.True(t, claimed.IsTouchedBy("tika"))

	again, err := c.Claim(ctx, model.EmptyQuery())
	require.NoError(t, err)
	assert.Nil(t, again)

	fetched, err := c.Fetch(ctx, model.EmptyQuery().RequireID(doc.ID))
	require.NoError(t, err)
	require.NotNil(t, fetched)

	claimed.Contents["body"] = "text"
	ok, err := c.Mark(ctx, claimed, model.StatusProcessed)
	require.NoError(t, err)
	assert.True(t, ok)

	missing := model.NewDocument(model.ActionAdd)
	missing.ID = "missing"
	ok, err = c.Mark(ctx, missing, model.StatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Mark(ctx, claimed, model.Status("DONE"))
	assert.ErrorIs(t, err, model.ErrMalformedInput)
}

func TestHTTPClient_Write(t *testing.T) {
	srv, _ := newTestServer(t)
	c, err := NewHTTPClient(srv.URL, "input", HTTPOptions{})
	require.NoError(t, err)

	doc := model.NewDocument(model.ActionAdd)
	doc.Contents["title"] = "new"
	saved, err := c.Write(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.NotEmpty(t, saved.ID)
	assert.True(t, saved.IsTouchedBy("input"))
}

func TestHTTPClient_Files(t *testing.T) {
	ctx := context.Background()
	srv, conn := newTestServer(t)
	doc := insertDocument(t, conn)
	c, err := NewHTTPClient(srv.URL, "tika", HTTPOptions{})
	require.NoError(t, err)

	require.NoError(t, c.SaveFile(ctx, &model.DocumentFile{
		DocumentID: doc.ID,
		Name:       "page.txt",
		Encoding:   "utf-8",
		MimeType:   "text/plain",
		Data:       []byte("hello"),
	}))

	names, err := c.FileNames(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"page.txt"}, names)

	file, err := c.GetFile(ctx, doc.ID, "page.txt")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, []byte("hello"), file.Data)
	assert.Equal(t, "utf-8", file.Encoding)
	assert.Equal(t, "text/plain", file.MimeType)

	deleted, err := c.DeleteFile(ctx, doc.ID, "page.txt")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.DeleteFile(ctx, doc.ID, "page.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	file, err = c.GetFile(ctx, doc.ID, "page.txt")
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestHTTPClient_Stage(t *testing.T) {
	srv, _ := newTestServer(t)

	c, err := NewHTTPClient(srv.URL, "tika", HTTPOptions{})
	require.NoError(t, err)
	stage, err := c.Stage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stage)
	assert.Equal(t, "tika", stage.Name)
	assert.True(t, stage.Query.HasStagePredicate("input"))

	c, err = NewHTTPClient(srv.URL, "unknown", HTTPOptions{})
	require.NoError(t, err)
	stage, err = c.Stage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stage)
}

func TestHTTPClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "tika", HTTPOptions{
		RetryMax:     3,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	doc, err := c.Claim(context.Background(), model.EmptyQuery())
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_ErrorClasses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		code     string
	}{
		{"bad request", http.StatusBadRequest, `{"code":"BAD_JSON","message":"nope"}`, ErrBadRequest, "BAD_JSON"},
		{"server error", http.StatusInternalServerError, `{"code":"SERVER_ERROR","message":"boom"}`, ErrServer, "SERVER_ERROR"},
		{"plain text", http.StatusBadGateway, "upstream down", ErrServer, "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewHTTPClient(srv.URL, "tika", HTTPOptions{RetryMax: 3, RetryWaitMin: time.Millisecond})
			require.NoError(t, err)

			_, err = c.Claim(context.Background(), model.EmptyQuery())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, int32(1), calls.Load(), "must not retry")
		})
	}
}
