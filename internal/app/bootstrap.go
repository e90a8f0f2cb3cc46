package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"muster/internal/activity"
	"muster/internal/configengine"
	"muster/internal/factory"
	"muster/internal/idregistry"
	"muster/internal/moduleloader"
	"muster/internal/objectmodel"
	"muster/internal/runtimeerrors"
	"muster/pkg/logging"
)

// Application bundles the shared runtime registries — ID registry, type
// registry, object registry, factory, configuration engine, activity
// orchestrator, and module loader — into one value a driver can create,
// run, and tear down.
type Application struct {
	cfg Config

	IDs        *idregistry.Registry
	Types      *idregistry.TypeRegistry
	Objects    *objectmodel.Registry
	Factory    *factory.Factory
	Engine     *configengine.Engine
	Validators *activity.Registry
	Activities *activity.Orchestrator
	Modules    *moduleloader.Loader

	loadedConfigIDs []string
}

// NewApplication performs the bootstrap sequence: configure logging,
// construct the shared registries, then discover, load, and start every
// module found under cfg.ModuleRoots.
func NewApplication(cfg Config) (*Application, error) {
	logging.InitForCLI(cfg.LogLevel, os.Stdout)

	ids := idregistry.New()
	types := idregistry.NewTypeRegistry()
	objects := objectmodel.NewRegistry(ids)
	f := factory.New(types)
	engine := configengine.New(ids, types, objects, f)
	validators := activity.NewRegistry()
	orchestrator := activity.New(validators, objects, engine)
	loader := moduleloader.New(&moduleloader.Registries{Factory: f, Types: types, Validators: validators})

	a := &Application{
		cfg:        cfg,
		IDs:        ids,
		Types:      types,
		Objects:    objects,
		Factory:    f,
		Engine:     engine,
		Validators: validators,
		Activities: orchestrator,
		Modules:    loader,
	}

	if err := a.loadModules(); err != nil {
		return nil, err
	}
	return a, nil
}

// loadModules discovers every manifest under cfg.ModuleRoots and loads
// and starts each one in discovery order.
func (a *Application) loadModules() error {
	manifests, err := moduleloader.Discover(a.cfg.ModuleRoots)
	if err != nil {
		return fmt.Errorf("%w: discovering modules: %v", runtimeerrors.ErrResourceUnavailable, err)
	}
	for _, m := range manifests {
		if err := a.Modules.Load(m); err != nil {
			return err
		}
		if err := a.Modules.Start(m.ID); err != nil {
			return err
		}
	}
	return nil
}

// ListModules returns the IDs of every loaded module, sorted.
func (a *Application) ListModules() []string {
	ids := a.Modules.Loaded()
	sort.Strings(ids)
	return ids
}

// ConfigDocument is one discoverable configuration document under
// cfg.ConfigRoots.
type ConfigDocument struct {
	ID   string
	Path string
}

// ListConfigs scans every configured config root for *.xml documents and
// returns their declared <config id="..."> IDs.
func (a *Application) ListConfigs() ([]ConfigDocument, error) {
	var docs []ConfigDocument
	for _, root := range a.cfg.ConfigRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: reading config root %q: %v", runtimeerrors.ErrResourceUnavailable, root, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".xml" {
				continue
			}
			path := filepath.Join(root, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			node, err := configengine.Parse(data)
			if err != nil {
				continue
			}
			id, ok := node.Attr("id")
			if !ok {
				continue
			}
			docs = append(docs, ConfigDocument{ID: id, Path: path})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// findConfig resolves configID to its document path via ListConfigs.
func (a *Application) findConfig(configID string) (string, error) {
	docs, err := a.ListConfigs()
	if err != nil {
		return "", err
	}
	for _, d := range docs {
		if d.ID == configID {
			return d.Path, nil
		}
	}
	return "", fmt.Errorf("%w: no configuration document declares id %q", runtimeerrors.ErrNotFound, configID)
}

// RunConfig locates configID among cfg.ConfigRoots, loads it with params,
// and returns the engine-assigned configuration ID.
func (a *Application) RunConfig(configID string, params map[string]string) (string, error) {
	path, err := a.findConfig(configID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %q: %v", runtimeerrors.ErrConfigurationInvalid, path, err)
	}
	loadedID, err := a.Engine.Load(data, params)
	if err != nil {
		return "", err
	}
	a.loadedConfigIDs = append(a.loadedConfigIDs, loadedID)
	return loadedID, nil
}

// Shutdown tears down every configuration this Application loaded, in
// reverse load order, then stops every loaded module.
func (a *Application) Shutdown() error {
	var first error
	for i := len(a.loadedConfigIDs) - 1; i >= 0; i-- {
		if err := a.Engine.Stop(a.loadedConfigIDs[i]); err != nil && first == nil {
			first = err
		}
	}
	a.Engine.StopWorkers()
	for _, id := range a.Modules.Loaded() {
		if err := a.Modules.Stop(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
