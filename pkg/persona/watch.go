// Copyright 2025 Kadir Pekel
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

package persona

import (
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching dir for persona document edits, invalidating
// the in-memory cache entry for the affected id so the next Switch or
// resolve reloads the document from disk instead of serving a stale
// copy. Returns a stop function; the watcher goroutine exits once
// called. A nil Manager-level error here is a best-effort feature —
// failing to start a watcher should never prevent startup.
func (m *Manager) Watch(dir string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				id := personaIDFromPath(ev.Name)
				if id == "" {
					continue
				}
				_ = m.cache.Remove(id)
				slog.Debug("persona document changed, cache invalidated", "persona", id)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("persona watcher error", "error", werr)
			case <-done:
				watcher.Close()
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func personaIDFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if !strings.HasSuffix(base, ".yaml") && !strings.HasSuffix(base, ".yml") {
		return ""
	}
	base = strings.TrimSuffix(base, ".yaml")
	base = strings.TrimSuffix(base, ".yml")
	return base
}
