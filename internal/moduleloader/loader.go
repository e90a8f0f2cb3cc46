package moduleloader

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"muster/internal/activity"
	"muster/internal/factory"
	"muster/internal/idregistry"
	"muster/internal/metrics"
	"muster/internal/runtimeerrors"
	"muster/pkg/logging"
)

// entryPointSymbol is the exported symbol every module's shared library
// must define: a zero-argument function returning a Contribution.
const entryPointSymbol = "ModuleEntryPoint"

// Contribution is what a module's plugin entry point returns. Start
// registers the module's factory entries, types, and validators against
// the shared registries; Stop reverses whatever Start registered.
type Contribution interface {
	Start(reg *Registries) error
	Stop(reg *Registries) error
}

// EntryPointFunc is the signature looked up at entryPointSymbol.
type EntryPointFunc func() Contribution

// Registries bundles the process-wide registries a module's
// Contribution registers into.
type Registries struct {
	Factory    *factory.Factory
	Types      *idregistry.TypeRegistry
	Validators *activity.Registry
}

// pluginHandle is the subset of *plugin.Plugin the loader needs; it is a
// var so tests can substitute a fake without linking a real .so (Go
// plugins are Linux-only and require cgo, making them impractical to
// build in a unit test).
type pluginHandle interface {
	Lookup(symName string) (plugin.Symbol, error)
}

var openLibrary = func(path string) (pluginHandle, error) {
	return plugin.Open(path)
}

type moduleState struct {
	manifest     *Manifest
	contribution Contribution
	started      bool
}

// Loader tracks every loaded module and drives its load/start/stop
// lifecycle. Modules are loaded once and started once; stopping and
// unloading reverse those steps independently so a registry of modules
// can be torn down in any order the driver needs.
type Loader struct {
	reg *Registries

	mu     sync.Mutex
	loaded map[string]*moduleState
}

// New creates a Loader that registers module contributions into reg.
func New(reg *Registries) *Loader {
	return &Loader{reg: reg, loaded: make(map[string]*moduleState)}
}

// Load opens m's shared library and calls its plugin entry point exactly
// once. Loading an already-loaded module is a no-op and returns nil.
func (l *Loader) Load(m *Manifest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.loaded[m.ID]; ok {
		return nil
	}

	lib, err := openLibrary(m.libraryPath())
	if err != nil {
		return fmt.Errorf("%w: opening module %q library %q: %v", runtimeerrors.ErrResourceUnavailable, m.ID, m.libraryPath(), err)
	}
	sym, err := lib.Lookup(entryPointSymbol)
	if err != nil {
		return fmt.Errorf("%w: module %q has no %s entry point: %v", runtimeerrors.ErrResourceUnavailable, m.ID, entryPointSymbol, err)
	}
	entry, ok := sym.(EntryPointFunc)
	if !ok {
		if fn, ok := sym.(func() Contribution); ok {
			entry = fn
		} else {
			return fmt.Errorf("%w: module %q's %s has the wrong signature", runtimeerrors.ErrResourceUnavailable, m.ID, entryPointSymbol)
		}
	}

	l.loaded[m.ID] = &moduleState{manifest: m, contribution: entry()}
	logging.Info("ModuleLoader", "loaded module %s from %s", m.ID, m.libraryPath())
	return nil
}

// Start invokes moduleID's contribution Start, registering its factory
// entries, types, and validators. Starting an already-started module is
// a no-op.
func (l *Loader) Start(moduleID string) error {
	l.mu.Lock()
	state, ok := l.loaded[moduleID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: module %q is not loaded", runtimeerrors.ErrNotFound, moduleID)
	}
	if state.started {
		return nil
	}
	if err := state.contribution.Start(l.reg); err != nil {
		logging.Audit(logging.AuditEvent{Action: "module_start", Outcome: "failure", Target: moduleID, Error: err.Error()})
		return fmt.Errorf("%w: starting module %q: %v", runtimeerrors.ErrResourceUnavailable, moduleID, err)
	}

	l.mu.Lock()
	state.started = true
	l.mu.Unlock()
	metrics.ModulesLoaded.Inc()
	logging.Audit(logging.AuditEvent{Action: "module_start", Outcome: "success", Target: moduleID})
	return nil
}

// Stop invokes moduleID's contribution Stop, reversing whatever Start
// registered. Stopping an already-stopped or never-started module is a
// no-op.
func (l *Loader) Stop(moduleID string) error {
	l.mu.Lock()
	state, ok := l.loaded[moduleID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: module %q is not loaded", runtimeerrors.ErrNotFound, moduleID)
	}
	if !state.started {
		return nil
	}
	err := state.contribution.Stop(l.reg)
	l.mu.Lock()
	state.started = false
	l.mu.Unlock()
	metrics.ModulesLoaded.Dec()
	if err != nil {
		logging.Error("ModuleLoader", err, "module %s stop reported an error; continuing teardown", moduleID)
	}
	logging.Audit(logging.AuditEvent{Action: "module_stop", Outcome: "success", Target: moduleID})
	return nil
}

// Unload drops moduleID from the loader so a subsequent Load call is
// treated as fresh. Unload requires the module to be stopped first, so
// its factory registrations are already gone; instances created before
// the stop keep working until they are stopped themselves.
func (l *Loader) Unload(moduleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.loaded[moduleID]
	if !ok {
		return fmt.Errorf("%w: module %q is not loaded", runtimeerrors.ErrNotFound, moduleID)
	}
	if state.started {
		return fmt.Errorf("%w: module %q must be stopped before unloading", runtimeerrors.ErrLifecycleViolation, moduleID)
	}
	delete(l.loaded, moduleID)
	return nil
}

// IsStarted reports whether moduleID is currently loaded and started.
func (l *Loader) IsStarted(moduleID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.loaded[moduleID]
	return ok && state.started
}

// Loaded returns the IDs of every currently loaded module, in no
// guaranteed order — callers that need a stable order should sort the
// result themselves.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.loaded))
	for id := range l.loaded {
		ids = append(ids, id)
	}
	return ids
}

// Descriptors parses every activity descriptor moduleID's manifest
// contributes, resolving each listed path against the module's resource
// root.
func (l *Loader) Descriptors(moduleID string) ([]*activity.Descriptor, error) {
	l.mu.Lock()
	state, ok := l.loaded[moduleID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: module %q is not loaded", runtimeerrors.ErrNotFound, moduleID)
	}
	var out []*activity.Descriptor
	for _, rel := range state.manifest.Contributes.Activities {
		path := filepath.Join(state.manifest.resourceRoot(), rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: activity descriptor %q of module %q: %v", runtimeerrors.ErrResourceUnavailable, rel, moduleID, err)
		}
		d, err := activity.ParseDescriptor(data)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Find resolves relativePath against moduleID's resource root, used by
// services to locate static assets.
func (l *Loader) Find(moduleID, relativePath string) (string, error) {
	l.mu.Lock()
	state, ok := l.loaded[moduleID]
	l.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: module %q is not loaded", runtimeerrors.ErrNotFound, moduleID)
	}
	path := filepath.Join(state.manifest.resourceRoot(), relativePath)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: resource %q not found for module %q: %v", runtimeerrors.ErrResourceUnavailable, relativePath, moduleID, err)
	}
	return path, nil
}
