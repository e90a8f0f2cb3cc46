package moduleloader

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"muster/pkg/logging"
)

// ResourceWatcher watches the module.yaml files of the module directories
// found under its roots at Start and reports their changes on a channel.
// Module directories created or removed later are not reported. Changes
// are reported only; nothing is hot-reloaded.
type ResourceWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	roots   []string
	done    chan struct{}
}

// ChangeKind identifies what kind of filesystem event occurred.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

// Change describes one detected manifest change.
type Change struct {
	Path string
	Kind ChangeKind
}

// NewResourceWatcher creates a watcher over roots. Call Start to begin
// watching and receiving events on the returned channel.
func NewResourceWatcher(roots []string) *ResourceWatcher {
	return &ResourceWatcher{roots: roots}
}

// Start begins watching every configured root. Each root directory and
// the module subdirectories discovered under it at Start are watched
// non-recursively; only events on module.yaml files are reported.
func (rw *ResourceWatcher) Start() (<-chan Change, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range rw.roots {
		if err := w.Add(root); err != nil {
			logging.Warn("ModuleLoader", "failed to watch module root %s: %v", root, err)
			continue
		}
		manifests, err := Discover([]string{root})
		if err != nil {
			continue
		}
		for _, m := range manifests {
			if err := w.Add(m.manifestDir); err != nil {
				logging.Warn("ModuleLoader", "failed to watch module directory %s: %v", m.manifestDir, err)
			}
		}
	}

	rw.watcher = w
	rw.done = make(chan struct{})
	out := make(chan Change, 16)
	go rw.loop(w, out)
	return out, nil
}

func (rw *ResourceWatcher) loop(w *fsnotify.Watcher, out chan<- Change) {
	defer close(out)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != manifestFileName {
				continue
			}
			var kind ChangeKind
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				kind = ChangeCreated
			case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
				kind = ChangeRemoved
			default:
				kind = ChangeModified
			}
			out <- Change{Path: event.Name, Kind: kind}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logging.Warn("ModuleLoader", "resource watcher error: %v", err)
		case <-rw.done:
			return
		}
	}
}

// Stop closes the underlying fsnotify watcher and terminates the event
// loop goroutine.
func (rw *ResourceWatcher) Stop() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.watcher == nil {
		return
	}
	close(rw.done)
	_ = rw.watcher.Close()
	rw.watcher = nil
}
