// Package registry replaces the global singleton tables spec.md §9 calls
// out for redesign ("no package-level global state; an explicit registry
// instance is threaded through instead") with an explicit arena of
// handles: stage-1 engines keyed by module type, and streams keyed by id.
package registry

import (
	"sync"

	"github.com/fankserver/voicetrigger/internal/errs"
	"github.com/google/uuid"
)

// Registry is the single arena a process wires up at startup and passes
// down to everything that needs to look another component up by id,
// instead of reaching for a package-level map.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]interface{} // module_type -> *engine1.Engine, typed by caller
	streams map[string]interface{} // stream id -> *stream.Stream, typed by caller
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		engines: make(map[string]interface{}),
		streams: make(map[string]interface{}),
	}
}

// NextStreamID mints a process-unique stream id, standing in for the
// original's opaque stream handle allocator.
func (r *Registry) NextStreamID() string {
	return uuid.New().String()
}

// RegisterEngine stores the stage-1 engine instance for a module type.
// Callers type-assert the result back to their concrete engine type;
// the registry itself stays generic so internal/engine1 need not import
// internal/registry (which would cycle back through internal/stream).
func (r *Registry) RegisterEngine(moduleType string, engine interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[moduleType] = engine
}

// Engine looks up the stage-1 engine for a module type.
func (r *Registry) Engine(moduleType string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[moduleType]
	if !ok {
		return nil, errs.ErrUnknownEngine
	}
	return e, nil
}

// DeregisterEngine removes a module type's stage-1 engine, once its
// refcount has dropped to zero.
func (r *Registry) DeregisterEngine(moduleType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, moduleType)
}

// RegisterStream stores a stream instance under its id.
func (r *Registry) RegisterStream(id string, s interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = s
}

// Stream looks a stream up by id.
func (r *Registry) Stream(id string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, errs.ErrUnknownStream
	}
	return s, nil
}

// DeregisterStream removes a stream by id.
func (r *Registry) DeregisterStream(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// StreamIDs returns a snapshot slice of all registered stream ids, used by
// resource-manager style fan-out (e.g. concurrent_stream_changed).
func (r *Registry) StreamIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.streams))
	for id := range r.streams {
		out = append(out, id)
	}
	return out
}
