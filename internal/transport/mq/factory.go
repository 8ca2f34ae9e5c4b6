package mq

import (
	"context"
	"fmt"

	"github.com/syntrixbase/stagehand/internal/core/pubsub"
	"github.com/syntrixbase/stagehand/internal/core/pubsub/memory"
	"github.com/syntrixbase/stagehand/internal/core/pubsub/nats"
)

// NewBroker creates and connects the broker selected by cfg.
func NewBroker(ctx context.Context, cfg Config) (pubsub.Broker, error) {
	var broker pubsub.Broker
	switch cfg.Backend {
	case "memory":
		broker = memory.New(cfg.ChannelBufSize)
	case "nats":
		broker = nats.NewBroker(nats.Options{
			URL:            cfg.URL,
			Name:           cfg.Prefix,
			ConnectRetries: cfg.ConnectRetries,
			ChannelBufSize: cfg.ChannelBufSize,
		})
	default:
		return nil, fmt.Errorf("unsupported mq backend: %s", cfg.Backend)
	}

	if c, ok := broker.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return broker, nil
}
