package calendar

import (
	"fmt"
)

// Payload keys understood by NormalizePayload
const (
	messageKey        = "message"
	dateTimeKey       = "date_time"
	legacyDateTimeKey = "dateTime"
)

// EventTime is an RFC3339 timestamp bounding a calendar entry
type EventTime struct {
	DateTime string `json:"date_time"`
}

// Message is the canonical calendar entry handed to a Client
type Message struct {
	Visibility  string    `json:"visibility,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}

// Map renders the message in its canonical mapping form. Empty text
// fields are omitted.
func (m *Message) Map() map[string]any {
	out := map[string]any{
		"start": map[string]any{dateTimeKey: m.Start.DateTime},
		"end":   map[string]any{dateTimeKey: m.End.DateTime},
	}
	if m.Visibility != "" {
		out["visibility"] = m.Visibility
	}
	if m.Summary != "" {
		out["summary"] = m.Summary
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	return out
}

// MalformedPayloadError reports an event payload that does not carry a usable message
type MalformedPayloadError struct {
	Field  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %s: %s", e.Field, e.Reason)
}

// NormalizePayload extracts the calendar message from an event payload.
// Start and end accept either the date_time key or the older dateTime key.
func NormalizePayload(payload map[string]any) (*Message, error) {
	raw, ok := payload[messageKey]
	if !ok || raw == nil {
		return nil, &MalformedPayloadError{Field: messageKey, Reason: "missing"}
	}

	message, ok := raw.(map[string]any)
	if !ok {
		return nil, &MalformedPayloadError{Field: messageKey, Reason: fmt.Sprintf("expected a mapping, got %T", raw)}
	}

	start, err := normalizeEventTime(message, "start")
	if err != nil {
		return nil, err
	}

	end, err := normalizeEventTime(message, "end")
	if err != nil {
		return nil, err
	}

	return &Message{
		Visibility:  stringField(message, "visibility"),
		Summary:     stringField(message, "summary"),
		Description: stringField(message, "description"),
		Start:       start,
		End:         end,
	}, nil
}

func normalizeEventTime(message map[string]any, key string) (EventTime, error) {
	field := messageKey + "." + key

	raw, ok := message[key]
	if !ok || raw == nil {
		return EventTime{}, &MalformedPayloadError{Field: field, Reason: "missing"}
	}

	eventTime, ok := raw.(map[string]any)
	if !ok {
		return EventTime{}, &MalformedPayloadError{Field: field, Reason: fmt.Sprintf("expected a mapping, got %T", raw)}
	}

	for _, timeKey := range []string{dateTimeKey, legacyDateTimeKey} {
		value, present := eventTime[timeKey]
		if !present {
			continue
		}
		s, ok := value.(string)
		if !ok || s == "" {
			return EventTime{}, &MalformedPayloadError{
				Field:  field + "." + timeKey,
				Reason: "expected a non-empty string",
			}
		}
		return EventTime{DateTime: s}, nil
	}

	return EventTime{}, &MalformedPayloadError{Field: field, Reason: "neither date_time nor dateTime present"}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
