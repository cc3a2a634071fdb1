package companion

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubConfig holds configuration for the Pub/Sub sender.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger
}

// PubSubSender sends messages to a Pub/Sub topic with per-session ordering.
type PubSubSender struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewPubSubSender creates a sender for cfg.Topic.
func NewPubSubSender(ctx context.Context, cfg PubSubConfig) (*PubSubSender, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.Topic)
	publisher.EnableMessageOrdering = true

	return &PubSubSender{
		client:    client,
		publisher: publisher,
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}, nil
}

// Send publishes msg and waits for the server ack.
func (s *PubSubSender) Send(ctx context.Context, msg Message) error {
	res := s.publisher.Publish(ctx, &pubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	})
	if _, err := res.Get(ctx); err != nil {
		// A failed ordered publish pauses its key until resumed.
		if msg.OrderingKey != "" {
			s.publisher.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publishing to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (s *PubSubSender) Close() error {
	s.publisher.Stop()
	return s.client.Close()
}
