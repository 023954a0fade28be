package calendar

import (
	"fmt"
	"sort"
	"sync"
)

// BackendFactory maps backend names to client constructors
type BackendFactory struct {
	mu           sync.RWMutex
	constructors map[string]ClientConstructor
}

// NewBackendFactory creates an empty backend factory
func NewBackendFactory() *BackendFactory {
	return &BackendFactory{
		constructors: make(map[string]ClientConstructor),
	}
}

// RegisterBackend registers a client constructor under a backend name
func (f *BackendFactory) RegisterBackend(backend string, constructor ClientConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[backend] = constructor
}

// Constructor returns the client constructor for a backend
func (f *BackendFactory) Constructor(backend string) (ClientConstructor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	constructor, exists := f.constructors[backend]
	if !exists {
		return nil, fmt.Errorf("unsupported calendar backend: %s", backend)
	}
	return constructor, nil
}

// SupportedBackends returns the registered backend names in sorted order
func (f *BackendFactory) SupportedBackends() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	backends := make([]string, 0, len(f.constructors))
	for backend := range f.constructors {
		backends = append(backends, backend)
	}
	sort.Strings(backends)
	return backends
}
