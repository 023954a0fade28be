package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/venkytv/calendar-publisher/internal/models"
)

// Memory keeps emitted events in memory and exposes copies of them
type Memory struct {
	mu      sync.RWMutex
	events  []*models.Event
	byAgent map[string][]int
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{byAgent: make(map[string][]int)}
}

// Append stores a copy of event. It is safe for concurrent use.
func (m *Memory) Append(ctx context.Context, event *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.AgentID == "" {
		return fmt.Errorf("event %s has no agent id", event.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byAgent[event.AgentID] = append(m.byAgent[event.AgentID], len(m.events))
	m.events = append(m.events, event.Clone())
	return nil
}

// Count returns the number of events created by agentID
func (m *Memory) Count(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byAgent[agentID])
}

// Len returns the total number of stored events
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Events returns the events created by agentID in append order
func (m *Memory) Events(agentID string) []*models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indexes := m.byAgent[agentID]
	out := make([]*models.Event, len(indexes))
	for i, idx := range indexes {
		out[i] = m.events[idx].Clone()
	}
	return out
}

// Last returns the most recent event created by agentID
func (m *Memory) Last(agentID string) (*models.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indexes := m.byAgent[agentID]
	if len(indexes) == 0 {
		return nil, false
	}
	return m.events[indexes[len(indexes)-1]].Clone(), true
}
