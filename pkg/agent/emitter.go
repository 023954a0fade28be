package agent

import (
	"context"
	"fmt"

	"github.com/venkytv/calendar-publisher/internal/models"
)

// EventStore persists events created by the agent. Implementations must
// support concurrent appends.
type EventStore interface {
	Append(ctx context.Context, event *models.Event) error
}

type emitter struct {
	agentID string
	store   EventStore
}

// emit creates the result event for source and appends it to the store.
// A nil cause produces a success payload wrapping response.
func (e *emitter) emit(ctx context.Context, source *models.Event, response map[string]any, cause error) (*models.Event, error) {
	var payload map[string]any
	if cause == nil {
		payload = models.NewSuccessPayload(source, response)
	} else {
		payload = models.NewFailurePayload(source, cause)
	}

	result := models.NewEvent(e.agentID, payload)
	if err := e.store.Append(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store result for event %s: %w", source.ID, err)
	}
	return result, nil
}
