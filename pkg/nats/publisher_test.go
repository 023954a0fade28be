package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/nats.go"

	"github.com/venkytv/calendar-publisher/internal/models"
)

// fakeConn records published messages
type fakeConn struct {
	mu         sync.Mutex
	published  map[string][][]byte
	closed     bool
	connected  bool
	publishErr error
	flushErr   error
	flushes    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		published: make(map[string][][]byte),
		connected: true,
	}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

func (f *fakeConn) IsClosed() bool    { return f.closed }
func (f *fakeConn) IsConnected() bool { return f.connected }

func (f *fakeConn) Stats() nats.Statistics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nats.Statistics{OutMsgs: uint64(len(f.published))}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Expected default URL to be 'nats://127.0.0.1:4222', got %s", config.URL)
	}

	if config.ConnectTimeout != 5*time.Second {
		t.Errorf("Expected default connect timeout to be 5s, got %v", config.ConnectTimeout)
	}

	if len(config.Options(nil)) == 0 {
		t.Error("Expected connection options")
	}
}

func TestNewPublisherRequiresSubject(t *testing.T) {
	if _, err := newPublisher(newFakeConn(), "", slog.Default()); err == nil {
		t.Error("Expected error for empty subject")
	}
	if _, err := NewPublisher(nil, "results", slog.Default()); err == nil {
		t.Error("Expected error for nil connection")
	}
}

func TestPublisherAppend(t *testing.T) {
	conn := newFakeConn()
	publisher, err := newPublisher(conn, "calendar.results", slog.Default())
	if err != nil {
		t.Fatalf("newPublisher() error = %v", err)
	}

	source := &models.Event{ID: "42", AgentID: "weather"}
	event := models.NewEvent("publisher", models.NewSuccessPayload(source, map[string]any{"id": "baz"}))

	if err := publisher.Append(context.Background(), event); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	messages := conn.published["calendar.results"]
	if len(messages) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(messages))
	}

	decoded, err := DecodeEvent(messages[0])
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}

	want := map[string]any{
		models.PayloadSuccess:                true,
		models.PayloadPublishedCalendarEvent: map[string]any{"id": "baz"},
		models.PayloadAgentID:                "weather",
		models.PayloadEventID:                "42",
	}
	if diff := cmp.Diff(want, decoded.Payload); diff != "" {
		t.Errorf("Published payload mismatch (-want +got):\n%s", diff)
	}
	if decoded.ID != event.ID || decoded.AgentID != "publisher" {
		t.Errorf("Unexpected event header: %+v", decoded)
	}
}

func TestPublisherAppendErrors(t *testing.T) {
	event := models.NewEvent("publisher", map[string]any{})

	t.Run("closed connection", func(t *testing.T) {
		conn := newFakeConn()
		conn.closed = true
		publisher, _ := newPublisher(conn, "results", slog.Default())
		if err := publisher.Append(context.Background(), event); err == nil {
			t.Error("Expected error for closed connection")
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		conn := newFakeConn()
		conn.publishErr = nats.ErrMaxPayload
		publisher, _ := newPublisher(conn, "results", slog.Default())
		err := publisher.Append(context.Background(), event)
		if !errors.Is(err, nats.ErrMaxPayload) {
			t.Errorf("Expected ErrMaxPayload, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		conn := newFakeConn()
		publisher, _ := newPublisher(conn, "results", slog.Default())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := publisher.Append(ctx, event); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if len(conn.published["results"]) != 0 {
			t.Error("Expected nothing to be published")
		}
	})

	t.Run("nil event", func(t *testing.T) {
		publisher, _ := newPublisher(newFakeConn(), "results", slog.Default())
		if err := publisher.Append(context.Background(), nil); err == nil {
			t.Error("Expected error for nil event")
		}
	})
}

func TestPublisherAppendConcurrent(t *testing.T) {
	conn := newFakeConn()
	publisher, _ := newPublisher(conn, "results", slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Append(context.Background(), models.NewEvent("publisher", map[string]any{})); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(conn.published["results"]); got != 20 {
		t.Errorf("Expected 20 published messages, got %d", got)
	}
}

func TestPublisherHealthCheck(t *testing.T) {
	publisher := &Publisher{
		conn:    nil,
		subject: "test.subject",
		logger:  slog.Default(),
	}

	if err := publisher.IsHealthy(); err == nil {
		t.Error("Expected health check to fail with nil connection")
	}

	conn := newFakeConn()
	publisher.conn = conn
	if err := publisher.IsHealthy(); err != nil {
		t.Errorf("Expected healthy connection, got %v", err)
	}

	conn.connected = false
	if err := publisher.IsHealthy(); err == nil {
		t.Error("Expected health check to fail when disconnected")
	}
}

func TestPublisherClose(t *testing.T) {
	conn := newFakeConn()
	publisher, _ := newPublisher(conn, "results", slog.Default())

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if conn.flushes != 1 {
		t.Errorf("Expected one flush, got %d", conn.flushes)
	}

	conn.flushErr = nats.ErrTimeout
	if err := publisher.Close(); !errors.Is(err, nats.ErrTimeout) {
		t.Errorf("Expected flush timeout, got %v", err)
	}
}

func TestEventJSONShape(t *testing.T) {
	event := &models.Event{
		ID:        "1",
		AgentID:   "publisher",
		Payload:   map[string]any{"success": false},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	for _, key := range []string{"id", "agent_id", "payload", "created_at"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in %s", key, data)
		}
	}
}
