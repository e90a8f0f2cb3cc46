package idregistry

import (
	"fmt"
	"sync"

	"muster/internal/runtimeerrors"
)

// Constructor creates a new zero-valued instance of a registered type.
type Constructor func() interface{}

// Serializer renders a value of a registered type to a flat string map,
// returned by TypeRegistry.Serialize. It is optional; a type registered
// without one simply cannot be serialized.
type Serializer func(value interface{}) (map[string]string, error)

type typeEntry struct {
	ctor       Constructor
	parent     string
	serializer Serializer
}

// TypeRegistry maps a stable class name to a constructor, its parent
// class name (or "" for a root type), and an optional serializer. The
// configuration engine checks XML object type tags with Known; IsA is
// what service port binding and the factory's Supports use to check
// data-port compatibility.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]typeEntry
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]typeEntry)}
}

// Register records name's constructor, parent class name, and optional
// serializer. Re-registering the same name overwrites the prior entry,
// matching how a module's start may re-register its types on a reload.
func (t *TypeRegistry) Register(name string, ctor Constructor, parent string, serializer Serializer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.types[name] = typeEntry{ctor: ctor, parent: parent, serializer: serializer}
}

// Unregister removes name from the registry.
func (t *TypeRegistry) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.types, name)
}

// Make constructs a new zero-valued instance of name, failing with
// not_found if name was never registered.
func (t *TypeRegistry) Make(name string) (interface{}, error) {
	t.mu.RLock()
	entry, ok := t.types[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: type %q is not registered", runtimeerrors.ErrNotFound, name)
	}
	return entry.ctor(), nil
}

// Serialize renders value using name's registered serializer.
func (t *TypeRegistry) Serialize(name string, value interface{}) (map[string]string, error) {
	t.mu.RLock()
	entry, ok := t.types[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: type %q is not registered", runtimeerrors.ErrNotFound, name)
	}
	if entry.serializer == nil {
		return nil, fmt.Errorf("%w: type %q has no serializer", runtimeerrors.ErrNotFound, name)
	}
	return entry.serializer(value)
}

// IsA walks name's parent chain and reports whether ancestor appears in
// it (or equals name itself). name and every type walked through must be
// registered; ancestor only has to be named as a parent in the chain.
// IsA(name, name) is true even for an unregistered name — a type is
// always assignable to itself.
func (t *TypeRegistry) IsA(name, ancestor string) bool {
	if name == ancestor {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	current := name
	seen := map[string]bool{}
	for {
		entry, ok := t.types[current]
		if !ok {
			return false
		}
		if seen[current] {
			// Cyclic parent chain: defensively stop rather than loop forever.
			return false
		}
		seen[current] = true
		if entry.parent == "" {
			return false
		}
		if entry.parent == ancestor {
			return true
		}
		current = entry.parent
	}
}

// Known reports whether name is registered.
func (t *TypeRegistry) Known(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.types[name]
	return ok
}
