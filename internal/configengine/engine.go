package configengine

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"muster/internal/factory"
	"muster/internal/idregistry"
	"muster/internal/objectmodel"
	"muster/internal/paramsubst"
	"muster/internal/runtimeerrors"
	"muster/internal/service"
	"muster/internal/signalslot"
	"muster/internal/worker"
	"muster/pkg/logging"
)

const defaultWorkerName = "default"

// serviceHandle is a live, loaded service instance.
type serviceHandle struct {
	id        string
	body      service.Body
	base      *service.Base
	autoStart bool
}

// loadedConfig is one configuration or sub-configuration's universe of
// objects, services, and connections. Sub-configurations get their own
// universe while sharing the process-wide registries.
type loadedConfig struct {
	id          string
	objectIDs   []string
	services    map[string]*serviceHandle
	connections []*signalslot.Connection
	startOrder  []string
}

// Engine loads and tears down configurations. It owns the shared ID
// registry, type registry, object registry, and factory, and lazily
// creates named workers on demand.
type Engine struct {
	IDs     *idregistry.Registry
	Types   *idregistry.TypeRegistry
	Objects *objectmodel.Registry
	Factory *factory.Factory
	Subst   *paramsubst.Engine

	mu      sync.Mutex
	workers map[string]*worker.Worker
	configs map[string]*loadedConfig
}

// New creates an engine sharing the given registries.
func New(ids *idregistry.Registry, types *idregistry.TypeRegistry, objects *objectmodel.Registry, f *factory.Factory) *Engine {
	return &Engine{
		IDs:     ids,
		Types:   types,
		Objects: objects,
		Factory: f,
		Subst:   paramsubst.New(),
		workers: make(map[string]*worker.Worker),
		configs: make(map[string]*loadedConfig),
	}
}

// WorkerFor returns the named worker, creating it on first use.
func (e *Engine) WorkerFor(name string) *worker.Worker {
	if name == "" {
		name = defaultWorkerName
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[name]
	if !ok {
		w = worker.New(name)
		e.workers[name] = w
	}
	return w
}

// Load parses, substitutes, and instantiates a configuration document,
// returning its configuration ID: substitution, then objects, then
// services, then connections, then dependency-ordered start.
func (e *Engine) Load(xmlDoc []byte, params map[string]string) (string, error) {
	root, err := Parse(xmlDoc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", runtimeerrors.ErrConfigurationInvalid, err)
	}
	return e.LoadNode(root, params)
}

// LoadNode is Load, starting from an already-parsed Node — used to
// launch sub-configurations found in the document or supplied by an
// activity launch.
func (e *Engine) LoadNode(root *Node, params map[string]string) (string, error) {
	substituted, err := substitute(root, params, e.Subst)
	if err != nil {
		return "", err
	}

	configID, ok := substituted.Attr("id")
	if !ok {
		return "", fmt.Errorf("%w: <config> is missing its id attribute", runtimeerrors.ErrConfigurationInvalid)
	}

	cfg := &loadedConfig{id: configID, services: make(map[string]*serviceHandle)}

	objectIDs, err := e.loadObjects(substituted)
	if err != nil {
		return "", err
	}
	cfg.objectIDs = objectIDs

	graph := newDepGraph()
	if err := e.loadServices(substituted, cfg, graph); err != nil {
		e.teardown(cfg)
		return "", err
	}

	if err := e.loadConnections(substituted, cfg); err != nil {
		e.teardown(cfg)
		return "", err
	}

	order, err := graph.startOrder()
	if err != nil {
		e.teardown(cfg)
		return "", fmt.Errorf("%w: %v", runtimeerrors.ErrConfigurationInvalid, err)
	}
	cfg.startOrder = order

	for _, id := range order {
		handle, ok := cfg.services[id]
		if !ok || !handle.autoStart {
			continue
		}
		if err := handle.base.Start(handle.body).Wait(); err != nil {
			e.teardown(cfg)
			return "", fmt.Errorf("starting service %q: %w", id, err)
		}
	}

	if err := e.runLifecycleHooks(substituted, cfg); err != nil {
		e.teardown(cfg)
		return "", err
	}

	e.mu.Lock()
	e.configs[configID] = cfg
	e.mu.Unlock()
	return configID, nil
}

// runLifecycleHooks executes the imperative <start uid="..."/> and
// <stop uid="..."/> elements in document order after the auto-start
// pass.
func (e *Engine) runLifecycleHooks(root *Node, cfg *loadedConfig) error {
	for _, child := range root.ChildrenOf() {
		tag := child.Tag()
		if tag != "start" && tag != "stop" {
			continue
		}
		uid, ok := child.Attr("uid")
		if !ok {
			return fmt.Errorf("%w: <%s> is missing uid", runtimeerrors.ErrConfigurationInvalid, tag)
		}
		handle, ok := cfg.services[uid]
		if !ok {
			return fmt.Errorf("%w: <%s> references unknown service %q", runtimeerrors.ErrNotFound, tag, uid)
		}
		switch tag {
		case "start":
			if handle.base.State() == service.StateStarted {
				continue
			}
			if err := handle.base.Start(handle.body).Wait(); err != nil {
				return fmt.Errorf("starting service %q: %w", uid, err)
			}
		case "stop":
			if handle.base.State() != service.StateStarted {
				continue
			}
			if err := handle.base.Stop(handle.body).Wait(); err != nil {
				return fmt.Errorf("stopping service %q: %w", uid, err)
			}
		}
	}
	return nil
}

// teardown undoes everything a (possibly partial) load created, in the
// reverse of creation order: connections, then services (stopping and
// unbinding ports), then the configuration's objects.
func (e *Engine) teardown(cfg *loadedConfig) {
	for _, c := range cfg.connections {
		c.Disconnect()
	}
	cfg.connections = nil

	order := cfg.startOrder
	if len(order) == 0 {
		for id := range cfg.services {
			order = append(order, id)
		}
	}
	for _, id := range reversed(order) {
		handle, ok := cfg.services[id]
		if !ok {
			continue
		}
		if handle.base.State() == service.StateStarted {
			if err := handle.base.Stop(handle.body).Wait(); err != nil {
				logging.Error("ConfigEngine", err, "stopping service %s during teardown", id)
			}
		}
		handle.base.UnbindAll()
	}

	e.rollbackObjects(cfg)
}

func (e *Engine) rollbackObjects(cfg *loadedConfig) {
	for _, id := range cfg.objectIDs {
		e.Objects.Release(id)
	}
	cfg.objectIDs = nil
}

// loadObjects instantiates every direct <object> child of root. Top-level
// objects are independent of one another (only their own nested children
// create ordering constraints), so they are instantiated concurrently,
// one goroutine per object, joined with errgroup.
func (e *Engine) loadObjects(root *Node) ([]string, error) {
	children := root.ChildrenTagged("object")
	ids := make([]string, len(children))

	var g errgroup.Group
	for i, on := range children {
		i, on := i, on
		g.Go(func() error {
			id, err := e.instantiateObject(on)
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var bound []string
		for _, id := range ids {
			if id != "" {
				bound = append(bound, id)
			}
		}
		for _, id := range bound {
			e.Objects.Release(id)
		}
		return nil, err
	}
	return ids, nil
}

func (e *Engine) instantiateObject(n *Node) (string, error) {
	uid, ok := n.Attr("uid")
	if !ok {
		return "", fmt.Errorf("%w: <object> is missing uid", runtimeerrors.ErrConfigurationInvalid)
	}
	typeTag, ok := n.Attr("type")
	if !ok {
		return "", fmt.Errorf("%w: <object uid=%q> is missing type", runtimeerrors.ErrConfigurationInvalid, uid)
	}
	if !e.Types.Known(typeTag) {
		return "", fmt.Errorf("%w: object %q references unknown type %q", runtimeerrors.ErrConfigurationInvalid, uid, typeTag)
	}

	fields := make(map[string]interface{})
	for _, fn := range n.ChildrenTagged("field") {
		name, ok := fn.Attr("name")
		if !ok {
			continue
		}
		value, _ := fn.Attr("value")
		fields[name] = value
	}
	for _, nested := range n.ChildrenTagged("object") {
		nestedID, err := e.instantiateObject(nested)
		if err != nil {
			return "", err
		}
		if fieldName, ok := nested.Attr("field"); ok {
			fields[fieldName] = nestedID
		}
	}

	obj := objectmodel.New(uid, typeTag)
	obj.SetAll(fields)
	if err := e.Objects.Put(obj); err != nil {
		return "", fmt.Errorf("%w: object %q: %v", runtimeerrors.ErrConfigurationInvalid, uid, err)
	}
	return uid, nil
}

// producersOf scans every direct <service> child of root and returns a
// map from an object UID declared as some service's out port to the
// producing service's UID, so loadServices can translate an in/inout
// port's bound object UID into a same-stage service dependency and the
// producer starts before its consumers.
func producersOf(root *Node) map[string]string {
	producers := make(map[string]string)
	for _, sn := range root.ChildrenTagged("service") {
		uid, ok := sn.Attr("uid")
		if !ok {
			continue
		}
		for _, pn := range sn.ChildrenTagged("out") {
			if objUID, ok := pn.Attr("uid"); ok {
				producers[objUID] = uid
			}
		}
	}
	return producers
}

// loadServices instantiates every direct <service> child of root, binds
// its declared ports, runs Configure, and records its data dependencies
// in graph for start ordering.
func (e *Engine) loadServices(root *Node, cfg *loadedConfig, graph *depGraph) error {
	producers := producersOf(root)
	for _, sn := range root.ChildrenTagged("service") {
		uid, ok := sn.Attr("uid")
		if !ok {
			return fmt.Errorf("%w: <service> is missing uid", runtimeerrors.ErrConfigurationInvalid)
		}
		implTag, ok := sn.Attr("type")
		if !ok {
			return fmt.Errorf("%w: <service uid=%q> is missing type", runtimeerrors.ErrConfigurationInvalid, uid)
		}
		workerName, _ := sn.Attr("worker")
		w := e.WorkerFor(workerName)

		body, base, err := e.Factory.Make(implTag, uid, w)
		if err != nil {
			return fmt.Errorf("service %q: %w", uid, err)
		}

		if autoConnect, ok := sn.Attr("auto_connect"); ok && autoConnect == "false" {
			base.SetAutoConnectEnabled(false)
		}

		// Registered before binding so a failed bind below still has its
		// partial port references released by teardown.
		cfg.services[uid] = &serviceHandle{
			id:        uid,
			body:      body,
			base:      base,
			autoStart: attrTrue(sn, "auto_start"),
		}

		var deps []string
		for _, mode := range []string{"in", "inout", "out"} {
			for _, pn := range sn.ChildrenTagged(mode) {
				key, ok := pn.Attr("key")
				if !ok {
					continue
				}
				objUID, ok := pn.Attr("uid")
				if !ok {
					continue
				}
				if mode == "out" {
					continue // out ports are bound when the service calls Output.
				}
				if err := base.Bind(key, objUID); err != nil {
					return fmt.Errorf("service %q: %w", uid, err)
				}
				if producer, ok := producers[objUID]; ok && producer != uid {
					deps = append(deps, producer)
				}
			}
		}

		if attrsNode := firstChildTagged(sn, "attrs"); attrsNode != nil {
			if err := base.Configure(body, attrsNode); err != nil {
				return fmt.Errorf("service %q: %w", uid, err)
			}
		} else if err := base.Configure(body, nil); err != nil {
			return fmt.Errorf("service %q: %w", uid, err)
		}

		graph.addNode(uid, deps)
	}
	return nil
}

func attrTrue(n *Node, name string) bool {
	v, ok := n.Attr(name)
	return ok && v == "true"
}

func firstChildTagged(n *Node, tag string) *Node {
	children := n.ChildrenTagged(tag)
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// loadConnections wires every direct <connect> child of root: resolving
// a (entity_id, name) signal endpoint to a slot endpoint and registering
// the connection with the bus. Only object.modified signals and service
// signals connecting to a service's registered slot are supported by
// the generic engine; richer endpoint kinds are a module's business.
func (e *Engine) loadConnections(root *Node, cfg *loadedConfig) error {
	for _, cn := range root.ChildrenTagged("connect") {
		sigNodes := cn.ChildrenTagged("signal")
		slotNodes := cn.ChildrenTagged("slot")
		if len(sigNodes) != 1 || len(slotNodes) != 1 {
			return fmt.Errorf("%w: <connect> requires exactly one signal and one slot child", runtimeerrors.ErrConfigurationInvalid)
		}
		sigUID, _ := sigNodes[0].Attr("uid")
		sigName, _ := sigNodes[0].Attr("name")
		slotUID, _ := slotNodes[0].Attr("uid")
		slotName, _ := slotNodes[0].Attr("name")

		var sig *signalslot.Signal
		if obj, ok := e.Objects.Lookup(sigUID); ok && sigName == "modified" {
			sig = obj.Modified()
		} else if svc, ok := cfg.services[sigUID]; ok {
			sig = svc.base.OwnSignal(sigName)
		} else {
			return fmt.Errorf("%w: <connect> signal endpoint %q not found", runtimeerrors.ErrNotFound, sigUID)
		}

		svc, ok := cfg.services[slotUID]
		if !ok {
			return fmt.Errorf("%w: <connect> slot endpoint %q not found", runtimeerrors.ErrNotFound, slotUID)
		}
		slot, ok := svc.base.Slot(slotName)
		if !ok {
			return fmt.Errorf("%w: service %q declares no slot %q", runtimeerrors.ErrConfigurationInvalid, slotUID, slotName)
		}
		cfg.connections = append(cfg.connections, sig.Connect(slot, svc.base.Worker()))
	}
	return nil
}

// StartService starts a single service of a loaded configuration by its
// uid; a no-op if it is already STARTED. Exposed for slot bodies driving
// the imperative start hook at runtime.
func (e *Engine) StartService(configID, uid string) error {
	handle, err := e.serviceHandleFor(configID, uid)
	if err != nil {
		return err
	}
	if handle.base.State() == service.StateStarted {
		return nil
	}
	return handle.base.Start(handle.body).Wait()
}

// StopService stops a single service of a loaded configuration by its
// uid; a no-op if it is not STARTED.
func (e *Engine) StopService(configID, uid string) error {
	handle, err := e.serviceHandleFor(configID, uid)
	if err != nil {
		return err
	}
	if handle.base.State() != service.StateStarted {
		return nil
	}
	return handle.base.Stop(handle.body).Wait()
}

func (e *Engine) serviceHandleFor(configID, uid string) (*serviceHandle, error) {
	e.mu.Lock()
	cfg, ok := e.configs[configID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: configuration %q is not loaded", runtimeerrors.ErrNotFound, configID)
	}
	handle, ok := cfg.services[uid]
	if !ok {
		return nil, fmt.Errorf("%w: configuration %q has no service %q", runtimeerrors.ErrNotFound, configID, uid)
	}
	return handle, nil
}

// Stop tears down configID in reverse of its start order: drop
// connection handles, stop services, then release every object this
// configuration created.
func (e *Engine) Stop(configID string) error {
	e.mu.Lock()
	cfg, ok := e.configs[configID]
	if ok {
		delete(e.configs, configID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: configuration %q is not loaded", runtimeerrors.ErrNotFound, configID)
	}

	e.teardown(cfg)
	return nil
}

// StopWorkers stops every worker the engine created, joining their
// goroutines. Call only after every configuration has been torn down;
// posting to a stopped worker fails.
func (e *Engine) StopWorkers() {
	e.mu.Lock()
	workers := make([]*worker.Worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.workers = make(map[string]*worker.Worker)
	e.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

func reversed(order []string) []string {
	out := make([]string, len(order))
	for i, id := range order {
		out[len(order)-1-i] = id
	}
	return out
}
