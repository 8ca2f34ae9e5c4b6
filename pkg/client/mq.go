package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/stagehand/internal/core/pubsub"
	"github.com/syntrixbase/stagehand/internal/transport/mq"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// DefaultReceiveTimeout bounds how long a request waits for its reply.
const DefaultReceiveTimeout = 5 * time.Second

// MQClient calls the asynchronous transport on behalf of one stage
// instance. Requests are serialized: each waits for its own reply before the
// next is sent.
type MQClient struct {
	broker  pubsub.Broker
	prefix  string
	stage   string
	subject string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	replies <-chan *pubsub.Message
	cancel  context.CancelFunc
}

// NewMQClient subscribes to a fresh private reply subject for stage.
func NewMQClient(broker pubsub.Broker, prefix, stage string, timeout time.Duration) (*MQClient, error) {
	if !model.CheckStageName(stage) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStage, stage)
	}
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}

	subject := mq.StageSubject(prefix, stage, uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())
	replies, err := broker.Subscribe(ctx, subject, "")
	if err != nil {
		cancel()
		return nil, err
	}

	return &MQClient{
		broker:  broker,
		prefix:  prefix,
		stage:   stage,
		subject: subject,
		timeout: timeout,
		logger:  slog.Default().With("component", "mq-client", "stage", stage),
		replies: replies,
		cancel:  cancel,
	}, nil
}

// Subject returns the private reply subject of this client.
func (c *MQClient) Subject() string {
	return c.subject
}

// request publishes one request and waits for the reply carrying its
// correlation id. Replies to earlier, abandoned requests are dropped.
func (c *MQClient) request(ctx context.Context, typ string, data []byte) (*pubsub.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	msg := &pubsub.Message{
		Subject:       mq.CoreSubject(c.prefix),
		ReplyTo:       c.subject,
		CorrelationID: id,
		Type:          typ,
		Data:          data,
	}
	if err := c.broker.Publish(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case reply, ok := <-c.replies:
			if !ok {
				return nil, pubsub.ErrClosed
			}
			if reply.CorrelationID != id {
				c.logger.Debug("Dropping uncorrelated reply", "correlation_id", reply.CorrelationID)
				continue
			}
			return reply, nil
		case <-timer.C:
			return nil, ErrTryAgain
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func replyError(reply *pubsub.Message) error {
	var body mq.ErrorReply
	_ = json.Unmarshal(reply.Data, &body)
	switch reply.Status {
	case mq.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, body.Message)
	default:
		return fmt.Errorf("%w: %s", ErrServer, body.Message)
	}
}

func (c *MQClient) document(ctx context.Context, typ string, q model.Query) (*model.Document, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	reply, err := c.request(ctx, typ, data)
	if err != nil {
		return nil, err
	}
	if reply.Status != mq.StatusMatched {
		return nil, replyError(reply)
	}
	return model.ParseDocument(reply.Data)
}

// Claim fetches and claims a document matching q. When nothing matches no
// reply is sent and the call returns ErrTryAgain after the receive timeout.
func (c *MQClient) Claim(ctx context.Context, q model.Query) (*model.Document, error) {
	return c.document(ctx, mq.TypeClaim, q)
}

// Fetch returns a document matching q without claiming it.
func (c *MQClient) Fetch(ctx context.Context, q model.Query) (*model.Document, error) {
	return c.document(ctx, mq.TypeFetch, q)
}

// Mark reports outcome for doc. False means no matching document.
func (c *MQClient) Mark(ctx context.Context, doc *model.Document, outcome model.Status) (bool, error) {
	if !outcome.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", model.ErrMalformedInput, outcome)
	}
	data, err := doc.JSON()
	if err != nil {
		return false, err
	}
	reply, err := c.request(ctx, mq.MarkType(outcome), data)
	if err != nil {
		return false, err
	}
	switch reply.Status {
	case mq.StatusOK:
		return true, nil
	case mq.StatusNotFound:
		return false, nil
	default:
		return false, replyError(reply)
	}
}

// Close drops the reply subscription.
func (c *MQClient) Close() error {
	c.cancel()
	return nil
}
