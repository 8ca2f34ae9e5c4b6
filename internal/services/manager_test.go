package services

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/stagehand/internal/config"
	"github.com/syntrixbase/stagehand/internal/core/pubsub"
	"github.com/syntrixbase/stagehand/internal/core/storage"
	storageconfig "github.com/syntrixbase/stagehand/internal/core/storage/config"
	"github.com/syntrixbase/stagehand/internal/core/storage/memory"
	"github.com/syntrixbase/stagehand/pkg/client"
	"github.com/syntrixbase/stagehand/pkg/model"
	"github.com/syntrixbase/stagehand/pkg/worker"
)

const testPipeline = `
linear: true
after: input
stages:
  - name: tika
    class: com.example.Tika
  - name: output
    class: com.example.Solr
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Storage.Backend = storageconfig.BackendMemory
	cfg.Cache.Enabled = true
	cfg.MQ.Enabled = true
	cfg.MQ.Backend = "memory"
	cfg.MQ.Prefix = "test"
	cfg.Shutdown.KillDelay = -1
	cfg.Shutdown.StopTimeout = 5 * time.Second

	path := filepath.Join(t.TempDir(), "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte(testPipeline), 0o644))
	cfg.Pipeline.File = path
	return cfg
}

// closeRecorder counts Close calls on the connector's providers.
type closeRecorder struct {
	closed atomic.Int32
}

func (c *closeRecorder) Ping(context.Context) error { return nil }
func (c *closeRecorder) Close(context.Context) error {
	c.closed.Add(1)
	return nil
}

func useMemoryConnector(t *testing.T) *closeRecorder {
	t.Helper()
	rec := &closeRecorder{}
	prev := connectorFactory
	connectorFactory = func(context.Context, *config.Config) (storage.Connector, error) {
		store, err := memory.NewStore(100)
		if err != nil {
			return nil, err
		}
		return storage.Compose(store, store, store, rec), nil
	}
	t.Cleanup(func() { connectorFactory = prev })
	return rec
}

func startManager(t *testing.T, cfg *config.Config, opts Options) *Manager {
	t.Helper()
	m := NewManager(cfg, opts)
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	if opts.RunHTTP {
		require.Eventually(t, func() bool { return m.HTTPAddr() != "" }, 2*time.Second, 5*time.Millisecond)
	}
	return m
}

func TestManager_ServesBothTransports(t *testing.T) {
	rec := useMemoryConnector(t)
	cfg := testConfig(t)
	m := startManager(t, cfg, DefaultOptions(cfg))

	ctx := context.Background()
	assert.Equal(t, []string{"tika", "output"}, m.Orchestrator().Pipeline().StageNames())

	input, err := client.NewHTTPClient("http://"+m.HTTPAddr(), "input", client.HTTPOptions{})
	require.NoError(t, err)
	written, err := input.Write(ctx, model.NewDocument(model.ActionAdd))
	require.NoError(t, err)

	// The tika stage works over HTTP.
	tikaClient, err := client.NewHTTPClient("http://"+m.HTTPAddr(), "tika", client.HTTPOptions{})
	require.NoError(t, err)
	stage, err := tikaClient.Stage(ctx)
	require.NoError(t, err)
	require.NotNil(t, stage)

	w := worker.New(tikaClient, worker.ProcessorFunc(func(_ context.Context, doc *model.Document) (model.Status, error) {
		doc.Contents["text"] = "extracted"
		return model.StatusPending, nil
	}), worker.Config{Query: stage.Query})
	worked, err := w.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	// The output stage works over the message queue.
	outStage, ok := m.Orchestrator().Stage("output")
	require.True(t, ok)
	mqClient, err := client.NewMQClient(m.Broker(), cfg.MQ.Prefix, "output", 2*time.Second)
	require.NoError(t, err)
	defer mqClient.Close()

	claimed, err := mqClient.Claim(ctx, outStage.Query)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, written.ID, claimed.ID)
	assert.Equal(t, "extracted", claimed.Contents["text"])

	ok, err = mqClient.Mark(ctx, claimed, model.StatusProcessed)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Shutdown(ctx))
	assert.NoError(t, m.Wait())
	assert.Equal(t, int32(1), rec.closed.Load())
	assert.Nil(t, m.Connector())
}

func TestManager_StartTwice(t *testing.T) {
	useMemoryConnector(t)
	cfg := testConfig(t)
	m := startManager(t, cfg, Options{RunHTTP: true})
	defer m.Shutdown(context.Background())

	assert.EqualError(t, m.Start(context.Background()), "services already started")
}

func TestManager_InitConnectorError(t *testing.T) {
	prev := connectorFactory
	connectorFactory = func(context.Context, *config.Config) (storage.Connector, error) {
		return nil, model.ErrDatabaseUnavailable
	}
	defer func() { connectorFactory = prev }()

	err := NewManager(testConfig(t), Options{RunHTTP: true}).Init(context.Background())
	assert.ErrorIs(t, err, model.ErrDatabaseUnavailable)
}

func TestManager_InitFailureClosesConnector(t *testing.T) {
	rec := useMemoryConnector(t)
	prev := brokerFactory
	brokerFactory = func(context.Context, *config.Config) (pubsub.Broker, error) {
		return nil, errors.New("no broker")
	}
	defer func() { brokerFactory = prev }()

	cfg := testConfig(t)
	m := NewManager(cfg, Options{RunHTTP: true, RunMQ: true})
	err := m.Init(context.Background())
	assert.ErrorContains(t, err, "no broker")
	assert.Equal(t, int32(1), rec.closed.Load())
}

func TestManager_InitBadPipelineFile(t *testing.T) {
	rec := useMemoryConnector(t)
	cfg := testConfig(t)
	cfg.Pipeline.File = filepath.Join(t.TempDir(), "missing.yml")

	err := NewManager(cfg, Options{RunHTTP: true}).Init(context.Background())
	assert.ErrorContains(t, err, "failed to load pipelines")
	assert.Equal(t, int32(1), rec.closed.Load())
}

func TestManager_ListenerFailureStopsServices(t *testing.T) {
	useMemoryConnector(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPPort, _ = strconv.Atoi(portOf(ln.Addr()))

	m := NewManager(cfg, DefaultOptions(cfg))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- m.Wait() }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "http listen")
	case <-time.After(2 * time.Second):
		t.Fatal("listener failure did not stop the services")
	}
	assert.NoError(t, m.Shutdown(context.Background()))
}

func portOf(addr net.Addr) string {
	_, port, _ := net.SplitHostPort(addr.String())
	return port
}
