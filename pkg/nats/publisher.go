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

// publishConn is the subset of *nats.Conn used by Publisher
type publishConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	IsClosed() bool
	IsConnected() bool
	Stats() nats.Statistics
}

// Publisher appends result events by publishing them as JSON on a subject.
// It satisfies agent.EventStore.
type Publisher struct {
	conn    publishConn
	subject string
	logger  *slog.Logger
}

// NewPublisher creates a publisher writing to subject over conn
func NewPublisher(conn *nats.Conn, subject string, logger *slog.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	return newPublisher(conn, subject, logger)
}

func newPublisher(conn publishConn, subject string, logger *slog.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("outbound subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("NATS publisher initialized", "subject", subject)

	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Append publishes a single event
func (p *Publisher) Append(ctx context.Context, event *models.Event) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}

	p.logger.Debug("Published event",
		"subject", p.subject,
		"event_id", event.ID,
		"agent_id", event.AgentID,
		"success", event.Succeeded())

	return nil
}

// Flush ensures all published messages have been sent
func (p *Publisher) Flush(timeout time.Duration) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}

	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush NATS messages: %w", err)
	}

	return nil
}

// IsHealthy checks if the NATS connection is healthy
func (p *Publisher) IsHealthy() error {
	if p.conn == nil {
		return fmt.Errorf("NATS connection is nil")
	}

	if p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}

	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}

	return nil
}

// Stats returns connection statistics
func (p *Publisher) Stats() nats.Statistics {
	if p.conn == nil {
		return nats.Statistics{}
	}
	return p.conn.Stats()
}

// Close flushes pending messages. The connection itself is owned by the caller.
func (p *Publisher) Close() error {
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.Flush(5 * time.Second); err != nil {
			p.logger.Warn("Failed to flush messages on close", "error", err)
			return err
		}
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
