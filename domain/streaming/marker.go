// Package streaming holds the pure pieces of incremental JSON-array
// responses: per-handler stream markers, source classification, and the
// per-request stream state machine.
package streaming

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAlreadyMarked is returned when a handler is marked for streaming twice.
	ErrAlreadyMarked = errors.New("handler already marked for streaming")

	// ErrRegistryFrozen is returned when Mark is called after Freeze.
	ErrRegistryFrozen = errors.New("stream registry is frozen")
)

// Descriptor names a projection applied to every streamed item.
// The projection capability (ports.Projector) knows how to apply it.
type Descriptor interface {
	// Name identifies the projection in logs and errors.
	Name() string
}

// Marker is the declarative option set attached to a handler that opts in
// to streaming. A zero Marker streams items without projection.
type Marker struct {
	Projection Descriptor
}

// Metadata is what the registry records for a handler.
// The zero value means streaming is disabled.
type Metadata struct {
	Streaming  bool
	Projection Descriptor
}

// Registry maps handler IDs to stream metadata. It is filled at startup
// and read-only after Freeze.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Metadata
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Metadata)}
}

// Mark opts the handler into streaming with the marker's options.
// Each handler may be marked once.
func (r *Registry) Mark(handler string, m Marker) error {
	if handler == "" {
		return fmt.Errorf("mark: empty handler id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("mark %s: %w", handler, ErrRegistryFrozen)
	}
	if _, ok := r.entries[handler]; ok {
		return fmt.Errorf("mark %s: %w", handler, ErrAlreadyMarked)
	}

	r.entries[handler] = Metadata{
		Streaming:  true,
		Projection: m.Projection,
	}
	return nil
}

// Lookup returns the metadata for a handler. Unknown handlers get the
// zero Metadata.
func (r *Registry) Lookup(handler string) Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[handler]
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Handlers returns the IDs of all marked handlers.
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Each calls fn for every marked handler. Iteration stops at the first error.
func (r *Registry) Each(fn func(handler string, md Metadata) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, md := range r.entries {
		if err := fn(id, md); err != nil {
			return err
		}
	}
	return nil
}
