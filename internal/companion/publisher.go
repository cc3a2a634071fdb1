// Package companion forwards navigation snapshots to a paired device over a
// message topic.
package companion

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/pkg/geo"
)

// MessageType is the "type" attribute of every published message.
const MessageType = "navigation_state"

// Message is one encoded snapshot ready for delivery.
type Message struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// Sender delivers messages. Send blocks until the message is accepted or ctx ends.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Snapshot is the companion view of a navigation state: the route geometry
// is left out and only its ID is sent.
type Snapshot struct {
	SessionID         string           `json:"sessionId"`
	Sequence          uint64           `json:"sequence"`
	Navigating        bool             `json:"navigating"`
	RouteID           string           `json:"routeId,omitempty"`
	Instruction       string           `json:"instruction,omitempty"`
	NextInstruction   string           `json:"nextInstruction,omitempty"`
	Location          *geo.Point       `json:"location,omitempty"`
	Progress          float64          `json:"progress"`
	DistanceRemaining float64          `json:"distanceRemaining"`
	ETASeconds        float64          `json:"etaSeconds"`
	AQI               *float64         `json:"aqi,omitempty"`
	Level             airquality.Level `json:"level,omitempty"`
	OffRoute          bool             `json:"offRoute"`
	Arrived           bool             `json:"arrived"`
	Alert             navigation.Alert `json:"alert,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// SnapshotOf converts a navigation state to its companion form.
func SnapshotOf(s navigation.State) Snapshot {
	out := Snapshot{
		SessionID:         s.SessionID,
		Sequence:          s.Sequence,
		Navigating:        s.Navigating,
		Location:          s.Location,
		Progress:          s.Progress,
		DistanceRemaining: s.DistanceRemaining,
		ETASeconds:        s.ETA.Seconds(),
		OffRoute:          s.OffRoute,
		Arrived:           s.Arrived,
		Alert:             s.Alert,
		UpdatedAt:         s.UpdatedAt,
	}
	if s.Route != nil {
		out.RouteID = s.Route.Route.ID
	}
	if s.CurrentStep != nil {
		out.Instruction = s.CurrentStep.Instruction
	}
	if s.NextStep != nil {
		out.NextInstruction = s.NextStep.Instruction
	}
	if s.Zone != nil {
		aqi := s.Zone.AQI()
		out.AQI = &aqi
		out.Level = s.Zone.Level()
	}
	return out
}

// Encode builds the message for s. Messages of one session share an
// ordering key.
func Encode(s navigation.State) (Message, error) {
	data, err := json.Marshal(SnapshotOf(s))
	if err != nil {
		return Message{}, err
	}
	attrs := map[string]string{
		"type":       MessageType,
		"session_id": s.SessionID,
		"sequence":   strconv.FormatUint(s.Sequence, 10),
	}
	if s.Alert != navigation.AlertNone {
		attrs["alert"] = string(s.Alert)
	}
	return Message{Data: data, Attributes: attrs, OrderingKey: s.SessionID}, nil
}

// Config holds the publisher's dependencies.
type Config struct {
	Sender Sender

	// QueueSize bounds snapshots awaiting delivery (default: 64).
	QueueSize int

	// Timeout bounds each send (default: 10s).
	Timeout time.Duration

	// OnDrop is called with the number of snapshots dropped. Optional.
	OnDrop func(n int)

	Logger zerolog.Logger
}

// Stats counts delivery outcomes.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Publisher is a navigation.Publisher that hands snapshots to a Sender from
// a single goroutine. Publish never blocks: when the queue is full the
// snapshot is dropped.
type Publisher struct {
	sender  Sender
	timeout time.Duration
	onDrop  func(int)
	logger  zerolog.Logger
	queue   chan navigation.State

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a Publisher. Call Run to start delivery.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Publisher{
		sender:  cfg.Sender,
		timeout: cfg.Timeout,
		onDrop:  cfg.OnDrop,
		logger:  cfg.Logger,
		queue:   make(chan navigation.State, cfg.QueueSize),
	}
}

// Publish enqueues s for delivery.
func (p *Publisher) Publish(s navigation.State) {
	select {
	case p.queue <- s:
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop(1)
		}
		p.logger.Warn().
			Str("session_id", s.SessionID).
			Uint64("sequence", s.Sequence).
			Msg("companion queue full, snapshot dropped")
	}
}

// Run delivers queued snapshots until ctx is done, then flushes what is
// still queued.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info().Int("queue_size", cap(p.queue)).Msg("companion publisher started")
	for {
		select {
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			p.logger.Info().
				Uint64("published", p.published.Load()).
				Uint64("dropped", p.dropped.Load()).
				Uint64("failed", p.failed.Load()).
				Msg("companion publisher stopped")
			return
		case s := <-p.queue:
			p.send(ctx, s)
		}
	}
}

// Stats returns the delivery counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Publisher) flush(ctx context.Context) {
	for {
		select {
		case s := <-p.queue:
			p.send(ctx, s)
		default:
			return
		}
	}
}

func (p *Publisher) send(ctx context.Context, s navigation.State) {
	msg, err := Encode(s)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error().Err(err).Str("session_id", s.SessionID).Msg("encoding navigation snapshot")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sender.Send(ctx, msg); err != nil {
		p.failed.Add(1)
		p.logger.Warn().
			Err(err).
			Str("session_id", s.SessionID).
			Uint64("sequence", s.Sequence).
			Msg("publishing navigation snapshot failed")
		return
	}
	p.published.Add(1)
}
