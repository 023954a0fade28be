// Package credentials stores named secrets per user. Secrets are only
// reachable through {% credential NAME %} references in agent options.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a user has no credential with the requested name
var ErrNotFound = errors.New("credential not found")

// Store looks up credential values by owner and name
type Store interface {
	Lookup(ctx context.Context, owner, name string) (string, error)
}

// Memory is an in-process Store
type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{values: make(map[string]map[string]string)}
}

// Set creates or replaces a credential
func (m *Memory) Set(owner, name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName, ok := m.values[owner]
	if !ok {
		byName = make(map[string]string)
		m.values[owner] = byName
	}
	byName[name] = value
}

// Delete removes a credential if present
func (m *Memory) Delete(owner, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[owner], name)
}

func (m *Memory) Lookup(ctx context.Context, owner, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[owner][name]
	if !ok {
		return "", fmt.Errorf("%w: %q for user %q", ErrNotFound, name, owner)
	}
	return value, nil
}

// LoadFile reads credentials from a YAML file of the form
//
//	users:
//	  jane:
//	    google_key: "..."
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file struct {
		Users map[string]map[string]string `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	store := NewMemory()
	for owner, byName := range file.Users {
		for name, value := range byName {
			store.Set(owner, name, value)
		}
	}
	return store, nil
}
