// SPDX-License-Identifier: Apache-2.0

package template

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// HelperRegistry performs the one-time discovery of user-provided helper
// files under a project's helpers/ directory, caching the resulting
// function table until fsnotify reports the directory changed. Helper
// files are Go plugins (.so) exposing a `Helpers() map[string]any` symbol;
// this mirrors the fsnotify-driven cache-invalidation pattern GoClode uses
// for its own on-disk config.
type HelperRegistry struct {
	dir string

	mu      sync.Mutex
	cache   map[string]any
	watcher *fsnotify.Watcher
	dirty   bool
}

// NewHelperRegistry returns a registry rooted at dir. dir need not exist yet.
func NewHelperRegistry(dir string) *HelperRegistry {
	return &HelperRegistry{dir: dir, dirty: true}
}

// Watch starts an fsnotify watch on the helpers directory so subsequent
// Load calls re-discover helper files after an edit. Watch is optional: a
// registry that is never Watch()-ed still performs discovery on every Load
// call where no cache exists yet.
func (r *HelperRegistry) Watch() error {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create helper file watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch helpers directory: %w", err)
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()

	go func() {
		for range w.Events {
			r.mu.Lock()
			r.dirty = true
			r.mu.Unlock()
		}
	}()

	return nil
}

// Close stops the fsnotify watch, if any.
func (r *HelperRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

// Load returns the helper function table, rediscovering helper plugins if
// the cache is empty or the watched directory has changed since the last
// Load.
func (r *HelperRegistry) Load() (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty && r.cache != nil {
		return r.cache, nil
	}

	table, err := r.discover()
	if err != nil {
		return nil, err
	}
	r.cache = table
	r.dirty = false
	return table, nil
}

func (r *HelperRegistry) discover() (map[string]any, error) {
	table := map[string]any{}

	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read helpers directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		p, err := plugin.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open helper plugin %s: %w", entry.Name(), err)
		}

		sym, err := p.Lookup("Helpers")
		if err != nil {
			return nil, fmt.Errorf("helper plugin %s missing Helpers symbol: %w", entry.Name(), err)
		}

		fn, ok := sym.(func() map[string]any)
		if !ok {
			return nil, fmt.Errorf("helper plugin %s: Helpers has unexpected signature", entry.Name())
		}

		for name, helper := range fn() {
			table[name] = helper
		}
	}

	return table, nil
}
