// Package moduleloader implements the module system: discovery of
// module manifests, loading their shared library and calling its plugin
// entry point once, starting (registering factory entries and extension
// data) and stopping, and resource-path lookup. A fsnotify-based
// watcher reports manifest changes under the module roots while an
// application is running.
package moduleloader

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"muster/internal/runtimeerrors"
)

// Contributions lists the extension points a module contributes on
// start.
type Contributions struct {
	Factories  []string `yaml:"factories"`
	Activities []string `yaml:"activities"`
	Validators []string `yaml:"validators"`
}

// Manifest is a module's declarative resource file: its identifier,
// dependencies, library name, resource root, and extension
// contributions.
type Manifest struct {
	ID           string        `yaml:"id"`
	Dependencies []string      `yaml:"dependencies"`
	Library      string        `yaml:"library"`
	ResourceRoot string        `yaml:"resourceRoot"`
	Contributes  Contributions `yaml:"contributes"`

	// manifestDir is the directory the manifest file itself was found
	// in, used to resolve Library and ResourceRoot when they are
	// relative paths.
	manifestDir string
}

const manifestFileName = "module.yaml"

// ParseManifest decodes a single module manifest from YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing module manifest: %v", runtimeerrors.ErrConfigurationInvalid, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: module manifest is missing id", runtimeerrors.ErrConfigurationInvalid)
	}
	return &m, nil
}

// libraryPath resolves Library against manifestDir if it is relative.
func (m *Manifest) libraryPath() string {
	if filepath.IsAbs(m.Library) {
		return m.Library
	}
	return filepath.Join(m.manifestDir, m.Library)
}

// resourceRoot resolves ResourceRoot against manifestDir if it is
// relative.
func (m *Manifest) resourceRoot() string {
	if m.ResourceRoot == "" {
		return m.manifestDir
	}
	if filepath.IsAbs(m.ResourceRoot) {
		return m.ResourceRoot
	}
	return filepath.Join(m.manifestDir, m.ResourceRoot)
}

// Discover walks each root in roots looking for a manifestFileName file
// directly inside any immediate subdirectory, parsing each one found.
func Discover(roots []string) ([]*Manifest, error) {
	var manifests []*Manifest
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: reading module root %q: %v", runtimeerrors.ErrResourceUnavailable, root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			path := filepath.Join(dir, manifestFileName)
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("%w: reading %q: %v", runtimeerrors.ErrResourceUnavailable, path, err)
			}
			m, err := ParseManifest(data)
			if err != nil {
				return nil, err
			}
			m.manifestDir = dir
			manifests = append(manifests, m)
		}
	}
	return manifests, nil
}
