// Package objectmodel implements the data Object: the unit of shared
// state passed between services, with an immutable ID and type tag, a
// monotone last-modified counter, a locked field map, and a "modified"
// signal that drives auto-connected service updates.
package objectmodel

import (
	"sync"
	"sync/atomic"

	"muster/internal/signalslot"
)

// Object is the unit of shared state passed between services. ID and
// TypeTag are immutable after construction. LastModified is monotone
// non-decreasing and only advances via Set and SetAll. Every field access is
// guarded by mu, the same reader-writer lock that backs a service's
// input/inout port access.
type Object struct {
	id           string
	typeTag      string
	mu           sync.RWMutex
	fields       map[string]interface{}
	lastModified atomic.Uint64
	modified     *signalslot.Signal
}

// New constructs an Object with the given immutable ID and type tag and
// an empty field map.
func New(id, typeTag string) *Object {
	return &Object{
		id:       id,
		typeTag:  typeTag,
		fields:   make(map[string]interface{}),
		modified: signalslot.New(),
	}
}

// ID returns the object's immutable identifier.
func (o *Object) ID() string { return o.id }

// TypeTag returns the object's immutable type tag.
func (o *Object) TypeTag() string { return o.typeTag }

// Modified returns the signal emitted after every Set, carrying the
// object's ID as its sole argument. Connect to it for auto-connections
// and self-update reaction chains.
func (o *Object) Modified() *signalslot.Signal { return o.modified }

// LastModified returns the current value of the monotone modification
// counter, used by services implementing the modification-stamp
// short-circuit self-update pattern.
func (o *Object) LastModified() uint64 {
	return o.lastModified.Load()
}

// Get reads a field under a shared lock. The bool reports whether key is
// present.
func (o *Object) Get(key string) (interface{}, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.fields[key]
	return v, ok
}

// GetLocked acquires the object's read lock and returns an unlock
// function, giving the caller a read-locked handle that can read
// multiple fields under one lock acquisition. The caller must call
// unlock exactly once.
func (o *Object) GetLocked() (snapshot map[string]interface{}, unlock func()) {
	o.mu.RLock()
	return o.fields, o.mu.RUnlock
}

// Set writes a field under an exclusive lock, advances the
// last-modified counter, then emits Modified after releasing the lock —
// never while holding it, since a handler may take a read lock on this
// same object.
func (o *Object) Set(key string, value interface{}) {
	o.mu.Lock()
	o.fields[key] = value
	o.lastModified.Add(1)
	o.mu.Unlock()

	o.modified.Emit(o.id)
}

// SetAll writes multiple fields atomically under one exclusive lock,
// advancing the last-modified counter once, then emits Modified once.
// Used by the configuration engine when initializing an object's fields
// from its <field> children and nested <object> IDs, so partially-applied
// state is never observable.
func (o *Object) SetAll(values map[string]interface{}) {
	o.mu.Lock()
	for k, v := range values {
		o.fields[k] = v
	}
	o.lastModified.Add(1)
	o.mu.Unlock()

	o.modified.Emit(o.id)
}

// Inout acquires the exclusive lock and returns the live field map plus
// an unlock function, for callers that need to read-then-write several
// fields atomically without an intervening Modified emission. The caller is
// responsible for bumping LastModified and emitting Modified themselves
// if they want reactive propagation (e.g. via Set after releasing).
func (o *Object) Inout() (fields map[string]interface{}, unlock func()) {
	o.mu.Lock()
	return o.fields, o.mu.Unlock
}
