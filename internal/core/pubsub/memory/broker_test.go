package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/syntrixbase/stagehand/internal/core/pubsub"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan *pubsub.Message) *pubsub.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, ch <-chan *pubsub.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on %s", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "app.stage.>", "")
	require.NoError(t, err)

	msg := &pubsub.Message{
		Subject:       "app.stage.tika.1",
		ReplyTo:       "app.core",
		CorrelationID: "c1",
		Type:          "claim",
		Data:          []byte(`{}`),
	}
	require.NoError(t, b.Publish(ctx, msg))

	got := receive(t, ch)
	assert.Equal(t, *msg, *got)

	// delivered payloads are copies
	got.Data[0] = 'x'
	assert.Equal(t, byte('{'), msg.Data[0])
}

func TestBroker_QueueGroupRoundRobin(t *testing.T) {
	b := New(10)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx, "app.core", "dispatchers")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "app.core", "dispatchers")
	require.NoError(t, err)
	plain, err := b.Subscribe(ctx, "app.core", "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(ctx, &pubsub.Message{Subject: "app.core"}))
	}

	assert.Len(t, a, 2)
	assert.Len(t, c, 2)
	assert.Len(t, plain, 4)
}

func TestBroker_UnmatchedSubject(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "app.stage.tika.*", "")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, &pubsub.Message{Subject: "app.stage.enrich.1"}))
	assertNoMessage(t, ch)
}

func TestBroker_InvalidSubject(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx := context.Background()

	assert.ErrorIs(t, b.Publish(ctx, &pubsub.Message{}), ErrInvalidSubject)
	assert.ErrorIs(t, b.Publish(ctx, &pubsub.Message{Subject: "a.*"}), ErrInvalidSubject)
	_, err := b.Subscribe(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestBroker_ContextCancelClosesChannel(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "a", "")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	// publishing to a subject without subscribers is not an error
	require.NoError(t, b.Publish(context.Background(), &pubsub.Message{Subject: "a"}))
}

func TestBroker_PublishBlockedByFullBuffer(t *testing.T) {
	b := New(1)
	defer b.Close()
	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()

	_, err := b.Subscribe(subCtx, "a", "")
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), &pubsub.Message{Subject: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, &pubsub.Message{Subject: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroker_Close(t *testing.T) {
	b := New(0)
	ch, err := b.Subscribe(context.Background(), "a", "")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, b.IsClosed())

	_, ok := <-ch
	assert.False(t, ok)

	assert.ErrorIs(t, b.Publish(context.Background(), &pubsub.Message{Subject: "a"}), pubsub.ErrClosed)
	_, err = b.Subscribe(context.Background(), "a", "")
	assert.ErrorIs(t, err, pubsub.ErrClosed)
}

func TestMessage_Reply(t *testing.T) {
	req := &pubsub.Message{Subject: "app.core", ReplyTo: "app.stage.s.1", CorrelationID: "c", Type: "fetch"}
	rep := req.Reply("matched", []byte("x"))
	assert.Equal(t, "app.stage.s.1", rep.Subject)
	assert.Equal(t, "c", rep.CorrelationID)
	assert.Equal(t, "fetch", rep.Type)
	assert.Equal(t, "matched", rep.Status)
	assert.Empty(t, rep.ReplyTo)
}
