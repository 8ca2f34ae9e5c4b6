// Package nats implements pubsub.Broker on core NATS. Correlation id, request
// type and reply status travel as message headers; replies use the native
// reply subject.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/syntrixbase/stagehand/internal/core/pubsub"
)

// Options configures the NATS broker.
type Options struct {
	URL string
	// Name identifies the connection on the server.
	Name string
	// ConnectRetries bounds startup connection attempts.
	ConnectRetries uint64
	ChannelBufSize int
}

// natsConnectFunc is a function type for connecting to NATS (injectable for testing)
type natsConnectFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// Broker implements pubsub.Broker over a single NATS connection.
type Broker struct {
	opts    Options
	connect natsConnectFunc
	logger  *slog.Logger

	mu sync.RWMutex
	nc *nats.Conn
}

// Compile-time checks
var (
	_ pubsub.Broker      = (*Broker)(nil)
	_ pubsub.Connectable = (*Broker)(nil)
)

// NewBroker creates a broker. Connect must be called before use.
func NewBroker(opts Options) *Broker {
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = pubsub.DefaultChannelBufSize
	}
	if opts.Name == "" {
		opts.Name = "stagehand"
	}
	return &Broker{
		opts:    opts,
		connect: nats.Connect,
		logger:  slog.Default().With("component", "pubsub"),
	}
}

// Connect dials the server, retrying with exponential backoff until the
// attempts are exhausted or ctx is done.
func (b *Broker) Connect(ctx context.Context) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.opts.ConnectRetries), ctx)
	nc, err := backoff.RetryNotifyWithData(func() (*nats.Conn, error) {
		return b.connect(b.opts.URL,
			nats.Name(b.opts.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
	}, policy, func(err error, next time.Duration) {
		b.logger.Warn("NATS connect failed, retrying", "url", b.opts.URL, "error", err, "next", next)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", b.opts.URL, err)
	}

	b.mu.Lock()
	b.nc = nc
	b.mu.Unlock()
	b.logger.Info("Connected to NATS", "url", b.opts.URL)
	return nil
}

func (b *Broker) conn() (*nats.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.nc == nil {
		return nil, pubsub.ErrClosed
	}
	return b.nc, nil
}

// Publish sends msg. Delivery is fire-and-forget; ctx only bounds the flush
// when it carries a deadline.
func (b *Broker) Publish(ctx context.Context, msg *pubsub.Message) error {
	nc, err := b.conn()
	if err != nil {
		return err
	}
	if err := nc.PublishMsg(toNATS(msg)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	if _, ok := ctx.Deadline(); ok {
		if err := nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("failed to flush %s: %w", msg.Subject, err)
		}
	}
	return nil
}

// Subscribe forwards messages on subject to the returned channel until ctx is
// done. A non-empty queueGroup joins a NATS queue group.
func (b *Broker) Subscribe(ctx context.Context, subject, queueGroup string) (<-chan *pubsub.Message, error) {
	nc, err := b.conn()
	if err != nil {
		return nil, err
	}

	msgCh := make(chan *pubsub.Message, b.opts.ChannelBufSize)
	var (
		mu     sync.Mutex
		closed bool
	)
	handler := func(m *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case msgCh <- fromNATS(m):
		case <-ctx.Done():
		}
	}

	var sub *nats.Subscription
	if queueGroup == "" {
		sub, err = nc.Subscribe(subject, handler)
	} else {
		sub, err = nc.QueueSubscribe(subject, queueGroup, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.logger.Debug("Subscribed", "subject", subject, "queue", queueGroup)

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !isClosing(err) {
			b.logger.Warn("Unsubscribe failed", "subject", subject, "error", err)
		}
		mu.Lock()
		closed = true
		close(msgCh)
		mu.Unlock()
	}()

	return msgCh, nil
}

// Close drains pending messages and closes the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	nc := b.nc
	b.nc = nil
	b.mu.Unlock()
	if nc == nil {
		return nil
	}
	b.logger.Info("Closing NATS connection...")
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	return nil
}

// isClosing reports errors caused by a connection that is already going away.
func isClosing(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionDraining) ||
		errors.Is(err, nats.ErrBadSubscription)
}

func toNATS(msg *pubsub.Message) *nats.Msg {
	m := nats.NewMsg(msg.Subject)
	m.Reply = msg.ReplyTo
	m.Data = msg.Data
	if msg.CorrelationID != "" {
		m.Header.Set(pubsub.HeaderCorrelationID, msg.CorrelationID)
	}
	if msg.Type != "" {
		m.Header.Set(pubsub.HeaderType, msg.Type)
	}
	if msg.Status != "" {
		m.Header.Set(pubsub.HeaderStatus, msg.Status)
	}
	return m
}

func fromNATS(m *nats.Msg) *pubsub.Message {
	msg := &pubsub.Message{
		Subject: m.Subject,
		ReplyTo: m.Reply,
		Data:    m.Data,
	}
	if m.Header != nil {
		msg.CorrelationID = m.Header.Get(pubsub.HeaderCorrelationID)
		msg.Type = m.Header.Get(pubsub.HeaderType)
		msg.Status = m.Header.Get(pubsub.HeaderStatus)
	}
	return msg
}
