package service

import (
	"fmt"
	"sync"

	"muster/internal/idregistry"
	"muster/internal/metrics"
	"muster/internal/objectmodel"
	"muster/internal/runtimeerrors"
	"muster/internal/signalslot"
	"muster/internal/worker"
)

// Body is implemented by a concrete service type and supplies the
// domain-specific lifecycle hooks; Base drives the state machine, port
// binding, and auto-connections around them. Concrete services embed
// *Base and satisfy Body, rather than reimplementing lifecycle
// bookkeeping themselves.
type Body interface {
	// OnConfigure validates cfg and records settings. Returning an error
	// here surfaces as configuration_invalid and leaves the service
	// STOPPED.
	OnConfigure(cfg ConfigNode) error
	// OnStart runs after auto-connections are built and before the
	// state transitions to STARTED. Returning an error rolls back the
	// partial auto-connections and leaves the service STOPPED.
	OnStart() error
	// OnUpdate is the service body posted to the worker by Update.
	OnUpdate()
	// OnStop runs after auto-connections are torn down and before the
	// state transitions to STOPPED.
	OnStop()
}

// StateChangeCallback is notified, outside any lock, whenever a
// service's state changes.
type StateChangeCallback func(id string, oldState, newState State)

// Base implements the service lifecycle state machine, data ports, and
// auto-connections. Concrete service types embed Base and implement
// Body.
type Base struct {
	id      string
	implTag string
	w       *worker.Worker
	objects *objectmodel.Registry
	types   *idregistry.TypeRegistry

	mu            sync.RWMutex
	state         State
	ports         map[string]*boundPort
	autoConns     []AutoConnDecl
	liveConns     []liveAutoConn
	slots         map[string]signalslot.Slot
	ownSignals    map[string]*signalslot.Signal
	consumedStamp map[string]uint64
	stateChangeCb StateChangeCallback
	autoConnect   bool

	failed *signalslot.Signal
}

// NewBase constructs a Base in state STOPPED, owned by worker w, with no
// ports bound and no connections live.
func NewBase(id, implTag string, w *worker.Worker, objects *objectmodel.Registry, types *idregistry.TypeRegistry, ports []PortDecl, autoConns []AutoConnDecl) *Base {
	b := &Base{
		id:            id,
		implTag:       implTag,
		w:             w,
		objects:       objects,
		types:         types,
		ports:         make(map[string]*boundPort),
		autoConns:     autoConns,
		slots:         make(map[string]signalslot.Slot),
		ownSignals:    make(map[string]*signalslot.Signal),
		consumedStamp: make(map[string]uint64),
		autoConnect:   true,
		failed:        signalslot.New(),
	}
	for _, decl := range ports {
		b.ports[decl.Key] = &boundPort{decl: decl}
	}
	return b
}

// SetAutoConnectEnabled toggles whether Start builds this service's
// declared auto-connections, backing the configuration language's
// per-instance auto_connect="false" override.
func (b *Base) SetAutoConnectEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoConnect = enabled
}

// ID returns the service's immutable identifier.
func (b *Base) ID() string { return b.id }

// ImplementationTag returns the service's factory implementation tag.
func (b *Base) ImplementationTag() string { return b.implTag }

// Worker returns the worker this service's lifecycle and slots run on.
func (b *Base) Worker() *worker.Worker { return b.w }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failed is the signal emitted when a slot or update body panics while
// the service is STARTED.
func (b *Base) Failed() *signalslot.Signal { return b.failed }

// SetStateChangeCallback installs the callback invoked, outside any
// lock, after every state transition.
func (b *Base) SetStateChangeCallback(cb StateChangeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateChangeCb = cb
}

func (b *Base) setState(newState State) {
	b.mu.Lock()
	old := b.state
	b.state = newState
	cb := b.stateChangeCb
	b.mu.Unlock()
	metrics.ObserveServiceState(b.id, newState.String(), allStateNames)
	if cb != nil && old != newState {
		cb(b.id, old, newState)
	}
}

// RegisterSlot declares a named slot on the service, invokable by
// auto-connections declared with the matching SlotName. A panic in the
// slot body is recovered and emitted on Failed.
func (b *Base) RegisterSlot(name string, slot signalslot.Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[name] = func(args ...interface{}) {
		b.runGuarded(func() { slot(args...) })
	}
}

// Slot looks up a slot previously registered with RegisterSlot.
func (b *Base) Slot(name string) (signalslot.Slot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.slots[name]
	return s, ok
}

// OwnSignal returns the service's signal named name, creating it on
// first use.
func (b *Base) OwnSignal(name string) *signalslot.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownSignals[name]
	if !ok {
		s = signalslot.New()
		b.ownSignals[name] = s
	}
	return s
}

// Bind associates objectID with the declared port key, after checking
// the bound object's type tag is assignable to the port's declared
// type. For a Group port, Bind appends to the indexed binding list
// instead of replacing it. Bind is only legal in STOPPED.
func (b *Base) Bind(key, objectID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateStopped {
		return fmt.Errorf("%w: cannot bind port %q while service %q is %s", runtimeerrors.ErrLifecycleViolation, key, b.id, b.state)
	}
	port, ok := b.ports[key]
	if !ok {
		return fmt.Errorf("%w: service %q declares no port %q", runtimeerrors.ErrConfigurationInvalid, b.id, key)
	}
	obj, ok := b.objects.Lookup(objectID)
	if !ok {
		return fmt.Errorf("%w: object %q not found binding port %q", runtimeerrors.ErrNotFound, objectID, key)
	}
	if !b.types.IsA(obj.TypeTag(), port.decl.TypeTag) {
		return fmt.Errorf("%w: port %q requires type %q, object %q is %q", runtimeerrors.ErrTypeMismatch, key, port.decl.TypeTag, objectID, obj.TypeTag())
	}
	if err := b.objects.AddRef(objectID); err != nil {
		return err
	}
	if port.decl.Group {
		port.objectIDs = append(port.objectIDs, objectID)
	} else {
		port.objectIDs = []string{objectID}
	}
	return nil
}

// allMandatoryBound reports whether every non-optional declared port has
// at least one binding. Caller must hold b.mu.
func (b *Base) allMandatoryBound() error {
	for key, port := range b.ports {
		if !port.decl.Optional && !port.bound() {
			return fmt.Errorf("%w: mandatory port %q is unbound", runtimeerrors.ErrConfigurationInvalid, key)
		}
	}
	return nil
}

// Input returns the bound object for a read (in/inout) port, or nil if
// the port is optional and unbound. Accessing an unbound non-optional
// port is a programming error and returns lifecycle_violation rather
// than panicking, so callers can surface it through the normal error
// path instead of crashing the worker.
func (b *Base) Input(key string) (*objectmodel.Object, error) {
	b.mu.RLock()
	port, ok := b.ports[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: service %q declares no port %q", runtimeerrors.ErrConfigurationInvalid, b.id, key)
	}
	if !port.bound() {
		if port.decl.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: mandatory unbound port %q accessed on service %q", runtimeerrors.ErrLifecycleViolation, key, b.id)
	}
	obj, ok := b.objects.Lookup(port.objectIDs[0])
	if !ok {
		return nil, fmt.Errorf("%w: bound object for port %q vanished", runtimeerrors.ErrNotFound, key)
	}
	return obj, nil
}

// Inputs returns every object bound to a group port, in bind order. For
// a non-group port the result holds at most one element.
func (b *Base) Inputs(key string) ([]*objectmodel.Object, error) {
	b.mu.RLock()
	port, ok := b.ports[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: service %q declares no port %q", runtimeerrors.ErrConfigurationInvalid, b.id, key)
	}
	var out []*objectmodel.Object
	for _, id := range port.objectIDs {
		obj, ok := b.objects.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: bound object %q for port %q vanished", runtimeerrors.ErrNotFound, id, key)
		}
		out = append(out, obj)
	}
	return out, nil
}

// Output binds obj into the object registry and records it on the out
// port, replacing (and releasing) any previous binding.
func (b *Base) Output(key string, obj *objectmodel.Object) error {
	b.mu.Lock()
	port, ok := b.ports[key]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: service %q declares no port %q", runtimeerrors.ErrConfigurationInvalid, b.id, key)
	}
	previous := port.objectIDs
	port.objectIDs = []string{obj.ID()}
	b.mu.Unlock()

	if err := b.objects.Put(obj); err != nil {
		// Already bound elsewhere: treat as an existing shared object and
		// just add a reference instead of failing the whole output.
		if err := b.objects.AddRef(obj.ID()); err != nil {
			return err
		}
	}
	for _, prevID := range previous {
		if prevID != obj.ID() {
			b.objects.Release(prevID)
		}
	}
	return nil
}

// ShouldRecompute compares input's current LastModified stamp against
// the stamp last consumed for inputKey, returning true (and recording
// the new stamp) only if the input actually changed since the last
// update that consumed it. Services with expensive outputs call this at
// the top of their update body to short-circuit redundant recomputes.
func (b *Base) ShouldRecompute(inputKey string, input *objectmodel.Object) bool {
	if input == nil {
		return false
	}
	current := input.LastModified()
	b.mu.Lock()
	defer b.mu.Unlock()
	last, seen := b.consumedStamp[inputKey]
	if seen && last == current {
		return false
	}
	b.consumedStamp[inputKey] = current
	return true
}

// Configure validates cfg via body.OnConfigure. Legal only in STOPPED.
func (b *Base) Configure(body Body, cfg ConfigNode) error {
	if b.State() != StateStopped {
		return fmt.Errorf("%w: configure is only legal in STOPPED, service %q is %s", runtimeerrors.ErrLifecycleViolation, b.id, b.State())
	}
	if err := body.OnConfigure(cfg); err != nil {
		return fmt.Errorf("%w: configuring service %q: %v", runtimeerrors.ErrConfigurationInvalid, b.id, err)
	}
	return nil
}

// liveAutoConn pairs a built auto-connection with the declaration it came
// from, so a service body can locate (and block) the connection for a
// given port while STARTED.
type liveAutoConn struct {
	decl AutoConnDecl
	conn *signalslot.Connection
}

// Start verifies mandatory ports are bound, builds auto-connections, and
// runs body.OnStart on the service's worker, transitioning to STARTED on
// success. On failure, any partial auto-connections are rolled back, the
// service remains STOPPED, and the returned future carries the error.
func (b *Base) Start(body Body) *worker.Future {
	return b.w.PostErr(func() error {
		b.mu.Lock()
		if b.state != StateStopped {
			state := b.state
			b.mu.Unlock()
			return fmt.Errorf("%w: start is only legal in STOPPED, service %q is %s", runtimeerrors.ErrLifecycleViolation, b.id, state)
		}
		if err := b.allMandatoryBound(); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("service %q: %w", b.id, err)
		}
		b.state = StateStarting
		b.mu.Unlock()

		conns := b.buildAutoConnections()
		if err := body.OnStart(); err != nil {
			for _, lc := range conns {
				lc.conn.Disconnect()
			}
			b.setState(StateStopped)
			return fmt.Errorf("%w: starting service %q: %v", runtimeerrors.ErrRuntimeFailure, b.id, err)
		}
		b.mu.Lock()
		b.liveConns = conns
		b.mu.Unlock()
		b.setState(StateStarted)
		return nil
	})
}

// buildAutoConnections creates one connection per declared auto-connection
// whose port is bound, from the bound object's named signal to the
// service's named slot.
func (b *Base) buildAutoConnections() []liveAutoConn {
	b.mu.RLock()
	enabled := b.autoConnect
	decls := append([]AutoConnDecl(nil), b.autoConns...)
	b.mu.RUnlock()
	if !enabled {
		return nil
	}

	var conns []liveAutoConn
	for _, decl := range decls {
		b.mu.RLock()
		port, ok := b.ports[decl.PortKey]
		b.mu.RUnlock()
		if !ok || !port.bound() {
			continue
		}
		obj, ok := b.objects.Lookup(port.objectIDs[0])
		if !ok {
			continue
		}
		var sig *signalslot.Signal
		if decl.SignalName == "modified" {
			sig = obj.Modified()
		} else {
			continue
		}
		b.mu.RLock()
		slot, ok := b.slots[decl.SlotName]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		conns = append(conns, liveAutoConn{decl: decl, conn: sig.Connect(slot, b.w)})
	}
	return conns
}

// BlockAutoConnection opens a blocker on the live auto-connection whose
// declaration names portKey, or returns nil when the service is not
// STARTED or no such connection was built. A slot body that writes the
// object bound to portKey uses this to suppress its own self-update
// connection for the duration of the write.
func (b *Base) BlockAutoConnection(portKey string) *signalslot.Blocker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, lc := range b.liveConns {
		if lc.decl.PortKey == portKey {
			return lc.conn.NewBlocker()
		}
	}
	return nil
}

// Update posts body.OnUpdate to the service's worker. Multiple updates
// may be in flight; the worker serializes them. Legal only in STARTED; a
// call while not STARTED completes its Future with lifecycle_violation
// instead of running the body.
func (b *Base) Update(body Body) *worker.Future {
	return b.w.PostErr(func() error {
		if state := b.State(); state != StateStarted {
			return fmt.Errorf("%w: update is only legal in STARTED, service %q is %s", runtimeerrors.ErrLifecycleViolation, b.id, state)
		}
		b.runGuarded(body.OnUpdate)
		return nil
	})
}

// runGuarded invokes fn, recovering a panic as a runtime_failure emitted
// on Failed; the service remains STARTED.
func (b *Base) runGuarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ServiceFailuresTotal.WithLabelValues(b.id).Inc()
			b.failed.Emit(fmt.Errorf("%w: %v", runtimeerrors.ErrRuntimeFailure, r))
		}
	}()
	fn()
}

// Stop tears down auto-connections and runs body.OnStop, transitioning
// to STOPPED even if OnStop itself fails by panicking — the error is
// captured on Failed but the state machine still reaches STOPPED, so
// subsequent operations tolerate a partial teardown.
func (b *Base) Stop(body Body) *worker.Future {
	return b.w.PostErr(func() error {
		if state := b.State(); state != StateStarted {
			return fmt.Errorf("%w: stop is only legal in STARTED, service %q is %s", runtimeerrors.ErrLifecycleViolation, b.id, state)
		}
		b.setState(StateStopping)

		b.mu.Lock()
		conns := b.liveConns
		b.liveConns = nil
		b.mu.Unlock()
		for _, lc := range conns {
			lc.conn.Disconnect()
		}

		b.runGuarded(body.OnStop)
		b.setState(StateStopped)
		return nil
	})
}

// UnbindAll releases every port binding's object reference and clears
// the bindings; the configuration engine calls it when tearing a
// service down. Legal only in STOPPED; calling it in any other state is
// ignored so a partial-teardown path can invoke it unconditionally.
func (b *Base) UnbindAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateStopped {
		return
	}
	for _, port := range b.ports {
		for _, id := range port.objectIDs {
			b.objects.Release(id)
		}
		port.objectIDs = nil
	}
}
