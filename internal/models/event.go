package models

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys written into result events
const (
	PayloadSuccess                = "success"
	PayloadPublishedCalendarEvent = "published_calendar_event"
	PayloadAgentID                = "agent_id"
	PayloadEventID                = "event_id"
	PayloadError                  = "error"
)

// Event is an immutable message owned by the agent that created it
type Event struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent creates an event owned by agentID with a fresh identifier
func NewEvent(agentID string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewSuccessPayload builds the payload emitted after a calendar entry was published
func NewSuccessPayload(source *Event, published map[string]any) map[string]any {
	return map[string]any{
		PayloadSuccess:                true,
		PayloadPublishedCalendarEvent: published,
		PayloadAgentID:                source.AgentID,
		PayloadEventID:                source.ID,
	}
}

// NewFailurePayload builds the payload emitted when publishing failed.
// The published calendar event key is omitted.
func NewFailurePayload(source *Event, err error) map[string]any {
	payload := map[string]any{
		PayloadSuccess: false,
		PayloadAgentID: source.AgentID,
		PayloadEventID: source.ID,
	}
	if err != nil {
		payload[PayloadError] = err.Error()
	}
	return payload
}

// Succeeded reports whether the event is a result event with success=true
func (e *Event) Succeeded() bool {
	ok, _ := e.Payload[PayloadSuccess].(bool)
	return ok
}

// Clone returns a copy of the event. Nested payload values are shared.
func (e *Event) Clone() *Event {
	out := *e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return &out
}
