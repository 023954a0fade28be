package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/venkytv/calendar-publisher/internal/models"
)

// Handler processes a batch of decoded inbound events
type Handler func(ctx context.Context, events []*models.Event) error

// SubscriberConfig controls how inbound messages are batched
type SubscriberConfig struct {
	Subject   string
	Queue     string
	BatchSize int
	BatchWait time.Duration
	Buffer    int
}

// DefaultSubscriberConfig returns the batching defaults for subject
func DefaultSubscriberConfig(subject string) *SubscriberConfig {
	return &SubscriberConfig{
		Subject:   subject,
		BatchSize: 50,
		BatchWait: 250 * time.Millisecond,
		Buffer:    1024,
	}
}

// Subscriber decodes JSON events from a subject and hands them to a Handler
// in batches
type Subscriber struct {
	conn   *nats.Conn
	config *SubscriberConfig
	logger *slog.Logger
}

// NewSubscriber creates a subscriber on conn
func NewSubscriber(conn *nats.Conn, config *SubscriberConfig, logger *slog.Logger) (*Subscriber, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if config == nil || config.Subject == "" {
		return nil, fmt.Errorf("inbound subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		conn:   conn,
		config: config.withDefaults(),
		logger: logger,
	}, nil
}

func (c *SubscriberConfig) withDefaults() *SubscriberConfig {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = 1
	}
	if out.BatchWait <= 0 {
		out.BatchWait = 250 * time.Millisecond
	}
	if out.Buffer <= 0 {
		out.Buffer = 1024
	}
	return &out
}

// Run subscribes and dispatches batches until ctx is cancelled. Pending
// events are flushed to the handler before returning.
func (s *Subscriber) Run(ctx context.Context, handler Handler) error {
	messages := make(chan *nats.Msg, s.config.Buffer)

	var (
		sub *nats.Subscription
		err error
	)
	if s.config.Queue != "" {
		sub, err = s.conn.ChanQueueSubscribe(s.config.Subject, s.config.Queue, messages)
	} else {
		sub, err = s.conn.ChanSubscribe(s.config.Subject, messages)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.config.Subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Failed to unsubscribe", "subject", s.config.Subject, "error", err)
		}
	}()

	s.logger.Info("Subscribed to inbound events",
		"subject", s.config.Subject,
		"queue", s.config.Queue,
		"batch_size", s.config.BatchSize)

	return s.consume(ctx, messages, handler)
}

// consume collects messages into batches of up to BatchSize, dispatching a
// partial batch once BatchWait has elapsed since its first message
func (s *Subscriber) consume(ctx context.Context, messages <-chan *nats.Msg, handler Handler) error {
	batch := make([]*models.Event, 0, s.config.BatchSize)
	timer := time.NewTimer(s.config.BatchWait)
	timer.Stop()

	dispatch := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := handler(ctx, batch); err != nil {
			s.logger.Error("Failed to handle inbound events",
				"count", len(batch),
				"error", err)
		}
		batch = make([]*models.Event, 0, s.config.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			dispatch(context.WithoutCancel(ctx))
			return nil

		case msg, ok := <-messages:
			if !ok {
				timer.Stop()
				dispatch(ctx)
				return nil
			}

			event, err := DecodeEvent(msg.Data)
			if err != nil {
				s.logger.Warn("Discarding malformed inbound message",
					"subject", msg.Subject,
					"error", err)
				continue
			}

			if len(batch) == 0 {
				timer.Reset(s.config.BatchWait)
			}
			batch = append(batch, event)

			if len(batch) >= s.config.BatchSize {
				timer.Stop()
				dispatch(ctx)
			}

		case <-timer.C:
			dispatch(ctx)
		}
	}
}

// DecodeEvent parses a JSON encoded event
func DecodeEvent(data []byte) (*models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("event is missing an id")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	return &event, nil
}
