// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked with the freshly-loaded Config after the watched
// file changes. It runs on the Watcher's goroutine; callers that mutate
// shared state should synchronize internally.
type ReloadFunc func(*Config)

// Watcher watches a config file's containing directory (more reliable
// across editors/atomic-rename saves than watching the file directly,
// per fsnotify's own documented caveats) and calls a reload callback
// whenever the file is rewritten.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	onError func(error)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewWatcher builds a Watcher over path. The file need not exist yet at
// construction time; it only needs to exist by the time reload events
// should start firing.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	return &Watcher{path: path, fsw: fsw}, nil
}

// Start begins watching path's directory and invokes onReload with the
// newly parsed Config on every write event targeting path. onError, if
// non-nil, receives parse/watch errors that would otherwise be silently
// dropped; a failed parse does not stop the watch.
func (w *Watcher) Start(onReload ReloadFunc, onError func(error)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("config: watcher already running")
	}
	w.onError = onError
	w.stop = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("config: watch dir %s: %w", dir, err)
	}

	go w.loop(onReload)
	return nil
}

func (w *Watcher) loop(onReload ReloadFunc) {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// Close stops the watch loop and releases the underlying inotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.running {
		close(w.stop)
		w.running = false
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
