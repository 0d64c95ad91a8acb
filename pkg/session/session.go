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

// Package session writes and reads the per-session JSONL event log:
// one line per Event, append-only, independent of the SQLite-backed
// checkpoint store that holds SessionState snapshots.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// Store appends and replays the JSONL event log for a session.
type Store interface {
	// AppendEvent writes one event as a JSON line to the session's log.
	AppendEvent(ctx context.Context, sessionID string, event sessionstate.Event) error

	// ReadEvents returns every logged event for a session, in append
	// order. Returns an empty slice (not an error) for an unknown
	// session — a session with no events yet is a normal state.
	ReadEvents(ctx context.Context, sessionID string) ([]sessionstate.Event, error)

	// ListSessions returns the ids of every session with a log file.
	ListSessions(ctx context.Context) ([]string, error)

	// DeleteSession removes a session's event log entirely.
	DeleteSession(ctx context.Context, sessionID string) error
}

// FileStore is a Store backed by one append-only JSONL file per
// session under a base directory, generalizing an in-memory per-entity
// service convention into durable per-session files.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("session: failed to create store dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) pathFor(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

func (s *FileStore) AppendEvent(ctx context.Context, sessionID string, event sessionstate.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.pathFor(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("session: failed to open log for %q: %w", sessionID, err)
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("session: failed to encode event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("session: failed to append event for %q: %w", sessionID, err)
	}
	return nil
}

func (s *FileStore) ReadEvents(ctx context.Context, sessionID string) ([]sessionstate.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.pathFor(sessionID))
	if os.IsNotExist(err) {
		return []sessionstate.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: failed to open log for %q: %w", sessionID, err)
	}
	defer f.Close()

	var events []sessionstate.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev sessionstate.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("session: corrupt event log for %q: %w", sessionID, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: failed to read log for %q: %w", sessionID, err)
	}
	return events, nil
}

func (s *FileStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session: failed to list store dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".jsonl" {
			ids = append(ids, name[:len(name)-len(ext)])
		}
	}
	return ids, nil
}

func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.pathFor(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: failed to delete log for %q: %w", sessionID, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
