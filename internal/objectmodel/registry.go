package objectmodel

import (
	"fmt"
	"sync"

	"muster/internal/idregistry"
	"muster/internal/runtimeerrors"
)

// Registry binds Objects into the process-wide ID registry and tracks
// how many service ports currently reference each one: the registry
// holds a strong reference as long as at least one binding exists. A
// binding here is a strong (refcounted) reference; any other holder
// should keep only the object's ID and re-resolve via Lookup (a weak
// reference) rather than hold the *Object directly, to avoid cyclic
// object graphs.
type Registry struct {
	ids *idregistry.Registry

	mu        sync.Mutex
	refcounts map[string]int
}

// NewRegistry creates an object registry layered on the given ID
// registry.
func NewRegistry(ids *idregistry.Registry) *Registry {
	return &Registry{
		ids:       ids,
		refcounts: make(map[string]int),
	}
}

// Put binds obj into the ID registry with an initial reference count of
// one. Put fails if obj's ID is already bound, even to obj itself.
func (r *Registry) Put(obj *Object) error {
	if err := r.ids.Bind(obj.ID(), obj); err != nil {
		return err
	}
	r.mu.Lock()
	r.refcounts[obj.ID()] = 1
	r.mu.Unlock()
	return nil
}

// AddRef increments id's reference count. AddRef fails with not_found if
// id is not currently bound.
func (r *Registry) AddRef(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refcounts[id]; !ok {
		return fmt.Errorf("%w: object %q has no binding to add a reference to", runtimeerrors.ErrNotFound, id)
	}
	r.refcounts[id]++
	return nil
}

// Release decrements id's reference count. When it reaches zero the
// object is unbound from the ID registry entirely: ownership is shared
// among the services that declare the object on a port, and the registry
// keeps it alive only while at least one such binding remains.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.refcounts[id]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(r.refcounts, id)
		r.ids.Unbind(id)
		return
	}
	r.refcounts[id] = n
}

// Lookup resolves id to its live Object, upgrading what is conceptually
// a weak reference. The bool reports whether id is currently bound to an
// Object.
func (r *Registry) Lookup(id string) (*Object, bool) {
	v, ok := r.ids.Lookup(id)
	if !ok {
		return nil, false
	}
	obj, ok := v.(*Object)
	return obj, ok
}

// RefCount reports id's current reference count, 0 if unbound. Exposed
// for tests and diagnostics.
func (r *Registry) RefCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refcounts[id]
}
