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

// Package checkpoint implements the state & checkpoint store: a
// SQLite-backed durable index of SessionState snapshots keyed by
// (session_id, step, kind), supporting save, load, list, rollback, and
// session deletion.
//
// Grounded on the original prototype's core/checkpoint.py
// (CheckpointManager: same unique key, same INSERT OR REPLACE
// semantics, same rollback-deletes-forward-steps behavior) and adapted
// to a storage-layering style with the rollback wrapped in a genuine
// SQL transaction for atomicity.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// Kind distinguishes transactional (retry/rollback boundary) checkpoints
// from milestone (logical task completion) checkpoints.
type Kind string

const (
	KindTransaction Kind = "TRANSACTION"
	KindMilestone   Kind = "MILESTONE"
)

// Phase records what the orchestrator was doing when a checkpoint was
// taken — supplemental diagnostic detail not required by the keying
// contract, useful for the HITL controller recognizing a suspended
// checkpoint on reload.
type Phase string

const (
	PhasePreLLM        Phase = "pre_llm"
	PhasePostLLM       Phase = "post_llm"
	PhaseToolExecution Phase = "tool_execution"
	PhaseToolApproval  Phase = "tool_approval"
	PhaseError         Phase = "error"
)

// ErrNotFound is returned when a requested checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is one durable snapshot row.
type Checkpoint struct {
	SessionID string
	Step      int64
	Kind      Kind
	Phase     Phase
	Label     string
	CreatedAt time.Time
	State     *sessionstate.SessionState
}

const filename = "checkpoints.db"

// Store is a SQLite-backed checkpoint index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the checkpoint database under dir.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, filename)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			kind TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			state_blob TEXT NOT NULL,
			PRIMARY KEY (session_id, step, kind)
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON checkpoints(session_id, step);
	`)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save persists a checkpoint, replacing any existing row with the same
// (session_id, step, kind) key.
func (s *Store) Save(state *sessionstate.SessionState, kind Kind, phase Phase, label string) error {
	blob, err := state.Serialize()
	if err != nil {
		return fmt.Errorf("checkpoint: failed to serialize state: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO checkpoints
			(session_id, step, kind, phase, label, created_at, state_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, state.SessionID, state.Step, string(kind), string(phase), label,
		time.Now().UTC().Format(time.RFC3339Nano), string(blob))
	if err != nil {
		return fmt.Errorf("checkpoint: failed to save checkpoint for %q step %d: %w", state.SessionID, state.Step, err)
	}
	return nil
}

// Load returns the checkpoint at the given step, or the highest-step
// checkpoint of either kind when step is nil. Returns ErrNotFound when
// none exists.
func (s *Store) Load(sessionID string, step *int64) (*Checkpoint, error) {
	var row *sql.Row
	if step != nil {
		row = s.db.QueryRow(`
			SELECT session_id, step, kind, phase, label, created_at, state_blob
			FROM checkpoints
			WHERE session_id = ? AND step = ?
			ORDER BY kind DESC LIMIT 1
		`, sessionID, *step)
	} else {
		row = s.db.QueryRow(`
			SELECT session_id, step, kind, phase, label, created_at, state_blob
			FROM checkpoints
			WHERE session_id = ?
			ORDER BY step DESC LIMIT 1
		`, sessionID)
	}
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		kind      string
		phase     string
		createdAt string
		blob      string
	)
	err := row.Scan(&cp.SessionID, &cp.Step, &kind, &phase, &cp.Label, &createdAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to load checkpoint: %w", err)
	}

	cp.Kind = Kind(kind)
	cp.Phase = Phase(phase)
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		cp.CreatedAt = ts
	}

	state, err := sessionstate.Deserialize([]byte(blob))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to deserialize state: %w", err)
	}
	cp.State = state

	return &cp, nil
}

// List returns every checkpoint for a session, ordered by step
// ascending.
func (s *Store) List(sessionID string) ([]Checkpoint, error) {
	rows, err := s.db.Query(`
		SELECT session_id, step, kind, phase, label, created_at, state_blob
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY step ASC, kind ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to list checkpoints for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var (
			cp        Checkpoint
			kind      string
			phase     string
			createdAt string
			blob      string
		)
		if err := rows.Scan(&cp.SessionID, &cp.Step, &kind, &phase, &cp.Label, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("checkpoint: failed to scan row: %w", err)
		}
		cp.Kind = Kind(kind)
		cp.Phase = Phase(phase)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			cp.CreatedAt = ts
		}
		state, err := sessionstate.Deserialize([]byte(blob))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: failed to deserialize state: %w", err)
		}
		cp.State = state
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Rollback loads the checkpoint at the given step and atomically
// deletes every checkpoint for this session with a higher step. Either
// both the load and the delete persist, or neither does.
func (s *Store) Rollback(sessionID string, step int64) (*sessionstate.SessionState, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to begin rollback transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT session_id, step, kind, phase, label, created_at, state_blob
		FROM checkpoints
		WHERE session_id = ? AND step = ?
		ORDER BY kind DESC LIMIT 1
	`, sessionID, step)

	var (
		cp        Checkpoint
		kind      string
		phase     string
		createdAt string
		blob      string
	)
	err = row.Scan(&cp.SessionID, &cp.Step, &kind, &phase, &cp.Label, &createdAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to load rollback target: %w", err)
	}

	state, err := sessionstate.Deserialize([]byte(blob))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to deserialize rollback target: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE session_id = ? AND step > ?`, sessionID, step); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to prune forward checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to commit rollback: %w", err)
	}

	return state, nil
}

// DeleteSession removes every checkpoint belonging to a session.
func (s *Store) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to delete session %q: %w", sessionID, err)
	}
	return nil
}
