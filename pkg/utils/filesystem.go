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

// Package utils provides small utility helpers shared across the orchestrator.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirs names the subdirectories EnsureStateDirs creates under a
// CLI's configured state directory.
type StateDirs struct {
	Checkpoints string
	Sessions    string
	Cache       string
}

// EnsureStateDirs creates (and returns the paths of) the checkpoint
// store, session log, and semantic cache subdirectories under stateDir,
// creating stateDir itself if necessary.
func EnsureStateDirs(stateDir string) (StateDirs, error) {
	dirs := StateDirs{
		Checkpoints: filepath.Join(stateDir, "checkpoints"),
		Sessions:    filepath.Join(stateDir, "sessions"),
		Cache:       filepath.Join(stateDir, "cache"),
	}
	for _, d := range []string{dirs.Checkpoints, dirs.Sessions, dirs.Cache} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return StateDirs{}, fmt.Errorf("failed to create state subdirectory %q: %w", d, err)
		}
	}
	return dirs, nil
}
