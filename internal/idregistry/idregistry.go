// Package idregistry implements the process-wide ID registry and type
// registry: a mutex-guarded map from opaque string IDs to bound
// entities, and a stable class-name table supporting an RTTI-like
// "is this type assignable from that type?" query.
//
// Both registries are conceptually process-wide singletons, but they are
// ordinary values here so a driver can create (and tear down, in reverse
// order) as many independent runtimes as it needs without package-level
// global state.
package idregistry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"muster/internal/runtimeerrors"
)

// Registry is the process-wide (or, here, runtime-wide) map from ID to
// bound entity. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]interface{}
}

// New creates an empty ID registry.
func New() *Registry {
	return &Registry{entries: make(map[string]interface{})}
}

// Reserve claims id without binding anything to it yet. It fails if id is
// already reserved or bound.
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: id %q already reserved", runtimeerrors.ErrConfigurationInvalid, id)
	}
	r.entries[id] = nil
	return nil
}

// Bind associates id with ptr. id must have been reserved, or this binds
// and reserves atomically if the ID is new.
func (r *Registry) Bind(id string, ptr interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.entries[id]; exists && existing != nil {
		return fmt.Errorf("%w: id %q already bound", runtimeerrors.ErrConfigurationInvalid, id)
	}
	r.entries[id] = ptr
	return nil
}

// Unbind removes id from the registry entirely, freeing it for reuse.
func (r *Registry) Unbind(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the entity bound to id, or (nil, false) if id is unknown
// or reserved-but-unbound. Callers holding a weak reference (a bare ID)
// upgrade it via Lookup each time they need the live entity.
func (r *Registry) Lookup(id string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, exists := r.entries[id]
	if !exists || v == nil {
		return nil, false
	}
	return v, true
}

// Exists reports whether id is reserved or bound.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[id]
	return exists
}

// GenerateUnique returns a new ID of the form "prefix-<uuid>" guaranteed
// not to collide with anything currently reserved or bound.
func (r *Registry) GenerateUnique(prefix string) string {
	for {
		id := fmt.Sprintf("%s-%s", prefix, uuid.NewString())
		r.mu.RLock()
		_, exists := r.entries[id]
		r.mu.RUnlock()
		if !exists {
			return id
		}
	}
}
