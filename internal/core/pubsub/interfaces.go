// Package pubsub abstracts the message broker used by the asynchronous
// transport. Implementations route plain subject-addressed messages and
// balance queue-group subscribers; correlation is carried in the message.
package pubsub

import (
	"context"
	"errors"
	"io"
)

// Header names used by broker implementations that carry metadata out of band.
const (
	HeaderCorrelationID = "Stagehand-Correlation-Id"
	HeaderType          = "Stagehand-Type"
	HeaderStatus        = "Stagehand-Status"
)

// DefaultChannelBufSize is the subscription buffer used when none is configured.
const DefaultChannelBufSize = 100

// ErrClosed is returned when operating on a closed broker.
var ErrClosed = errors.New("pubsub: broker is closed")

// Message is a single routed message.
type Message struct {
	Subject string
	// ReplyTo names the subject a response should be published on.
	ReplyTo       string
	CorrelationID string
	// Type is the request kind, Status the reply classification.
	Type   string
	Status string
	Data   []byte
}

// Reply builds the response to m, keeping its correlation id.
func (m *Message) Reply(status string, data []byte) *Message {
	return &Message{
		Subject:       m.ReplyTo,
		CorrelationID: m.CorrelationID,
		Type:          m.Type,
		Status:        status,
		Data:          data,
	}
}

// Broker publishes and subscribes to subjects.
type Broker interface {
	io.Closer

	// Publish sends msg to msg.Subject.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe delivers messages for subject until ctx is done, then closes
	// the channel. Subscribers sharing a non-empty queueGroup split the
	// messages between them; each message goes to one member of the group.
	Subscribe(ctx context.Context, subject, queueGroup string) (<-chan *Message, error)
}

// Connectable is an optional interface for brokers that need to establish
// a connection before they can be used.
type Connectable interface {
	Connect(ctx context.Context) error
}
