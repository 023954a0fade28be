package models

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent("agent-1", map[string]any{"foo": "bar"})

	if event.ID == "" {
		t.Error("Expected generated event ID")
	}
	if event.AgentID != "agent-1" {
		t.Errorf("Expected agent ID 'agent-1', got '%s'", event.AgentID)
	}
	if event.CreatedAt.IsZero() {
		t.Error("Expected creation time to be set")
	}

	other := NewEvent("agent-1", nil)
	if other.ID == event.ID {
		t.Error("Expected distinct IDs for distinct events")
	}
}

func TestNewSuccessPayload(t *testing.T) {
	source := &Event{ID: "42", AgentID: "bob"}
	published := map[string]any{"id": "baz", "status": "confirmed"}

	got := NewSuccessPayload(source, published)
	want := map[string]any{
		"success":                  true,
		"published_calendar_event": published,
		"agent_id":                 "bob",
		"event_id":                 "42",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewSuccessPayload() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewFailurePayload(t *testing.T) {
	source := &Event{ID: "42", AgentID: "bob"}

	tests := []struct {
		name string
		err  error
		want map[string]any
	}{
		{
			name: "with error",
			err:  errors.New("boom"),
			want: map[string]any{
				"success":  false,
				"agent_id": "bob",
				"event_id": "42",
				"error":    "boom",
			},
		},
		{
			name: "without error",
			err:  nil,
			want: map[string]any{
				"success":  false,
				"agent_id": "bob",
				"event_id": "42",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewFailurePayload(source, tt.err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NewFailurePayload() mismatch (-want +got):\n%s", diff)
			}
			if _, ok := got["published_calendar_event"]; ok {
				t.Error("Failure payload must not carry a published calendar event")
			}
		})
	}
}

func TestSucceeded(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"success", map[string]any{"success": true}, true},
		{"failure", map[string]any{"success": false}, false},
		{"missing", map[string]any{}, false},
		{"wrong type", map[string]any{"success": "true"}, false},
		{"nil payload", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &Event{Payload: tt.payload}
			if got := event.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClone(t *testing.T) {
	original := &Event{ID: "1", AgentID: "a", Payload: map[string]any{"k": "v"}}
	clone := original.Clone()

	clone.Payload["k"] = "changed"
	clone.ID = "2"

	if original.Payload["k"] != "v" {
		t.Error("Expected clone payload to be independent of original")
	}
	if original.ID != "1" {
		t.Error("Expected clone ID change not to affect original")
	}
}
