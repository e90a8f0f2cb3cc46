// Package factory implements the service factory: a registry mapping an
// implementation tag to a constructor plus its declared input/output
// object types, which Supports checks against the type registry's IsA.
// The bind-time type check during configuration loading is done by
// service.Base.Bind against each port's own declared type.
package factory

import (
	"fmt"
	"sync"

	"muster/internal/idregistry"
	"muster/internal/runtimeerrors"
	"muster/internal/service"
	"muster/internal/worker"
)

// Constructor builds a new service instance bound to worker w, with the
// given ID; any registries it needs are captured by the closure. The returned
// *service.Base is what the concrete service type embeds; implementers
// typically return the concrete type itself, up-cast via an accessor.
type Constructor func(id string, w *worker.Worker) (service.Body, *service.Base)

// TypeConstraints declares the type tags a service implementation
// requires or produces on its ports, used by Supports to answer whether
// an object type is compatible with a port.
type TypeConstraints struct {
	InputTypes  map[string]string // port key -> required type tag
	OutputTypes map[string]string // port key -> produced type tag
}

type entry struct {
	ctor        Constructor
	constraints TypeConstraints
}

// Factory maps implementation tags to constructors and their type
// constraints.
type Factory struct {
	types *idregistry.TypeRegistry

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty factory backed by types for is_a compatibility
// checks.
func New(types *idregistry.TypeRegistry) *Factory {
	return &Factory{types: types, entries: make(map[string]entry)}
}

// Register records implTag's constructor and type constraints.
// Re-registering the same tag overwrites the prior entry, matching a
// module's start re-registering factory entries on reload.
func (f *Factory) Register(implTag string, ctor Constructor, constraints TypeConstraints) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[implTag] = entry{ctor: ctor, constraints: constraints}
}

// Unregister removes implTag, e.g. when its contributing module unloads.
// Previously constructed instances are unaffected; only future Make
// calls are.
func (f *Factory) Unregister(implTag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, implTag)
}

// Make constructs a new service instance for implTag, failing with
// not_found if implTag was never registered.
func (f *Factory) Make(implTag, id string, w *worker.Worker) (service.Body, *service.Base, error) {
	f.mu.RLock()
	e, ok := f.entries[implTag]
	f.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: implementation %q is not registered", runtimeerrors.ErrNotFound, implTag)
	}
	body, base := e.ctor(id, w)
	return body, base, nil
}

// Supports reports whether an object of objectType can be bound to
// implTag's port portKey, per the port's declared type constraint and
// the type registry's is_a. An implementation or port with no declared
// constraint is treated as accepting anything.
func (f *Factory) Supports(implTag, portKey, objectType string) bool {
	f.mu.RLock()
	e, ok := f.entries[implTag]
	f.mu.RUnlock()
	if !ok {
		return false
	}
	if want, ok := e.constraints.InputTypes[portKey]; ok {
		return f.types.IsA(objectType, want)
	}
	if want, ok := e.constraints.OutputTypes[portKey]; ok {
		return f.types.IsA(objectType, want)
	}
	return true
}

// Known reports whether implTag is currently registered.
func (f *Factory) Known(implTag string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[implTag]
	return ok
}
