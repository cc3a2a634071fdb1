package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted on the worker subscription.
const (
	JobGridRefresh = "grid_refresh"
	JobHealthCheck = "health_check"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	jobs             *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	RefreshJob       *RefreshJob
	Logger           zerolog.Logger
}

// JobMessage is the payload of a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Targets restricts a grid refresh to the named targets.
	Targets []string `json:"targets,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		jobs:             NewDispatcher(cfg.RefreshJob, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		switch h.jobs.Handle(ctx, msg.Data, logger) {
		case Ack:
			msg.Ack()
		default:
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// Outcome tells the transport what to do with a message.
type Outcome int

const (
	Ack Outcome = iota
	Nack
)

// Dispatcher decodes job messages and runs them against a RefreshJob.
type Dispatcher struct {
	job    *RefreshJob
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(job *RefreshJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Handle runs the job encoded in data. Malformed messages are nacked;
// unknown job types are acked to prevent redelivery.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, logger zerolog.Logger) Outcome {
	start := time.Now()
	logger.Debug().Msg("received job message")

	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return Nack
	}

	var err error
	switch msg.JobType {
	case JobGridRefresh:
		err = d.gridRefresh(ctx, msg)
	case JobHealthCheck:
		err = d.healthCheck(ctx)
	default:
		logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return Ack
	}

	if err != nil {
		logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return Nack
	}

	logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(start)).
		Msg("job completed successfully")
	return Ack
}

func (d *Dispatcher) gridRefresh(ctx context.Context, msg JobMessage) error {
	result := d.job.RunTargets(ctx, msg.Targets)

	total := result.Successful + result.Failed
	if result.Failed > result.Successful {
		return fmt.Errorf("too many refresh failures: %d/%d", result.Failed, total)
	}
	return nil
}

// healthCheck verifies the ground feed and rebuilds the first target's grid.
func (d *Dispatcher) healthCheck(ctx context.Context) error {
	d.logger.Debug().Msg("running health check")

	if d.job.ground != nil {
		if err := d.job.refreshGround(ctx); err != nil {
			return fmt.Errorf("health check failed: ground feed: %w", err)
		}
	}

	targets := d.job.config.Ordered()
	if len(targets) == 0 || d.job.newGrid == nil {
		return nil
	}
	out := d.job.refreshTarget(ctx, targets[0], nil, false)
	if out.err != nil {
		return fmt.Errorf("health check failed: %w", out.err)
	}

	d.logger.Debug().Str("target", targets[0].Name).Msg("health check passed")
	return nil
}
