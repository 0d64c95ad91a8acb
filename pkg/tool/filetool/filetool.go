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

// Package filetool provides the worker's filesystem tools: read_file,
// write_file and list_dir, each sandboxed to a configured working
// directory.
//
// Grounded on a validatePath convention (absolute-path/traversal/
// working-directory-escape checks, line-numbered read output) and the
// original prototype's
// utils/tools.py (FileReadTool/ListDirTool: the plain read_file/
// list_dir surface a worker agent needs, returned as a single string
// rather than a structured map, since that is all a chat-completion
// tool result can carry back to the model).
package filetool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/parallax-labs/conclave/pkg/tool"
)

func decode(args map[string]any, out any) error {
	return mapstructure.Decode(args, out)
}

// validatePath rejects absolute paths, directory traversal, any resolved
// path escaping workingDir (including via a symlink), and — when allowed
// is non-empty — any path outside that explicit allow-list.
func validatePath(workingDir, path string, allowed []string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("directory traversal not allowed (..)")
	}

	absWorkDir, err := filepath.Abs(workingDir)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absWorkDir, cleaned))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, absWorkDir) {
		return "", fmt.Errorf("path escapes working directory")
	}

	resolved, err := resolveSymlinksWithin(absWorkDir, absPath)
	if err != nil {
		return "", err
	}

	if len(allowed) > 0 && !pathWithinAllowed(resolved, absWorkDir, allowed) {
		return "", fmt.Errorf("path %q is outside the configured allowed paths", path)
	}

	return resolved, nil
}

// resolveSymlinksWithin walks absPath component by component from
// absWorkDir, resolving any symlink it encounters and rejecting the path
// the moment a resolved component lands outside absWorkDir. Components
// that don't exist yet (the final segment of a write_file target) are
// passed through unresolved, since there is nothing to dereference.
func resolveSymlinksWithin(absWorkDir, absPath string) (string, error) {
	resolvedWorkDir, err := filepath.EvalSymlinks(absWorkDir)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}

	rel, err := filepath.Rel(absWorkDir, absPath)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if rel == "." {
		return resolvedWorkDir, nil
	}

	current := resolvedWorkDir
	parts := strings.Split(rel, string(filepath.Separator))
	for i, part := range parts {
		candidate := filepath.Join(current, part)
		info, err := os.Lstat(candidate)
		if err != nil {
			return filepath.Join(current, filepath.Join(parts[i:]...)), nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(candidate)
			if err != nil {
				return "", fmt.Errorf("cannot resolve symlink %q: %w", part, err)
			}
			if target != resolvedWorkDir && !strings.HasPrefix(target, resolvedWorkDir+string(filepath.Separator)) {
				return "", fmt.Errorf("path escapes working directory via symlink")
			}
			current = target
			continue
		}
		current = candidate
	}
	return current, nil
}

// pathWithinAllowed reports whether resolved falls under at least one
// entry of allowed, each entry interpreted relative to absWorkDir when
// not already absolute.
func pathWithinAllowed(resolved, absWorkDir string, allowed []string) bool {
	for _, a := range allowed {
		absAllowed := a
		if !filepath.IsAbs(absAllowed) {
			absAllowed = filepath.Join(absWorkDir, a)
		}
		absAllowed = filepath.Clean(absAllowed)
		if resolved == absAllowed || strings.HasPrefix(resolved, absAllowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Config is shared by every tool in this package. AllowedReadPaths and
// AllowedWritePaths mirror the `security.allowed_read_paths`/
// `allowed_write_paths` configuration keys: when set, they further
// restrict read_file/list_dir and write_file respectively to paths
// under one of the listed roots, in addition to the working-directory
// sandbox every tool always enforces.
type Config struct {
	WorkingDirectory  string
	MaxFileSize       int64
	AllowedReadPaths  []string
	AllowedWritePaths []string
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.WorkingDirectory == "" {
		out.WorkingDirectory = "./"
	}
	if out.MaxFileSize == 0 {
		out.MaxFileSize = 10 * 1024 * 1024
	}
	return &out
}

// ReadFileArgs is the read_file tool's argument shape.
type ReadFileArgs struct {
	Path        string `mapstructure:"path" json:"path" jsonschema:"required,description=File path relative to the working directory"`
	StartLine   int    `mapstructure:"start_line" json:"start_line,omitempty" jsonschema:"description=1-indexed first line to include"`
	EndLine     int    `mapstructure:"end_line" json:"end_line,omitempty" jsonschema:"description=1-indexed last line to include"`
	LineNumbers bool   `mapstructure:"line_numbers" json:"line_numbers,omitempty" jsonschema:"description=Prefix each line with its number"`
}

var readFileSchema = tool.MustGenerateSchema[ReadFileArgs]()

type readFile struct{ cfg *Config }

// NewReadFile returns the read_file tool.
func NewReadFile(cfg *Config) tool.CallableTool {
	if cfg == nil {
		cfg = &Config{}
	}
	return readFile{cfg: cfg.withDefaults()}
}

func (readFile) Name() string { return "read_file" }
func (readFile) Description() string {
	return "Read the contents of a file, optionally restricted to a line range."
}
func (readFile) Schema() map[string]any { return readFileSchema }

func (r readFile) Call(_ context.Context, args map[string]any) (string, error) {
	var a ReadFileArgs
	a.LineNumbers = true
	if err := decode(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath, err := validatePath(r.cfg.WorkingDirectory, a.Path, r.cfg.AllowedReadPaths)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return "", fmt.Errorf("file does not exist: %s", a.Path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", a.Path)
	}
	if info.Size() > r.cfg.MaxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), r.cfg.MaxFileSize)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	total := len(lines)
	start := 1
	if a.StartLine > 0 {
		start = a.StartLine
	}
	end := total
	if a.EndLine > 0 && a.EndLine < total {
		end = a.EndLine
	}
	if start > end {
		return "", fmt.Errorf("invalid range: start_line (%d) > end_line (%d)", start, end)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "FILE: %s (%d lines)\n", a.Path, total)
	for i := start - 1; i < end && i < len(lines); i++ {
		if a.LineNumbers {
			fmt.Fprintf(&out, "%6d| %s\n", i+1, lines[i])
		} else {
			fmt.Fprintf(&out, "%s\n", lines[i])
		}
	}
	return out.String(), nil
}

// WriteFileArgs is the write_file tool's argument shape.
type WriteFileArgs struct {
	Path    string `mapstructure:"path" json:"path" jsonschema:"required,description=File path relative to the working directory"`
	Content string `mapstructure:"content" json:"content" jsonschema:"required,description=Full file content to write"`
}

var writeFileSchema = tool.MustGenerateSchema[WriteFileArgs]()

type writeFile struct{ cfg *Config }

// NewWriteFile returns the write_file tool.
func NewWriteFile(cfg *Config) tool.CallableTool {
	if cfg == nil {
		cfg = &Config{}
	}
	return writeFile{cfg: cfg.withDefaults()}
}

func (writeFile) Name() string        { return "write_file" }
func (writeFile) Description() string { return "Create or overwrite a file with the given content." }
func (writeFile) Schema() map[string]any { return writeFileSchema }

func (w writeFile) Call(_ context.Context, args map[string]any) (string, error) {
	var a WriteFileArgs
	if err := decode(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath, err := validatePathAllowMissing(w.cfg.WorkingDirectory, a.Path, w.cfg.AllowedWritePaths)
	if err != nil {
		return "", err
	}
	if int64(len(a.Content)) > w.cfg.MaxFileSize {
		return "", fmt.Errorf("content too large: %d bytes (max %d)", len(a.Content), w.cfg.MaxFileSize)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(a.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path), nil
}

// validatePathAllowMissing is validatePath without the existence check,
// since write_file's target is allowed not to exist yet.
func validatePathAllowMissing(workingDir, path string, allowed []string) (string, error) {
	return validatePath(workingDir, path, allowed)
}

// ListDirArgs is the list_dir tool's argument shape.
type ListDirArgs struct {
	Path string `mapstructure:"path" json:"path,omitempty" jsonschema:"description=Directory path relative to the working directory (defaults to '.')"`
}

var listDirSchema = tool.MustGenerateSchema[ListDirArgs]()

type listDir struct{ cfg *Config }

// NewListDir returns the list_dir tool.
func NewListDir(cfg *Config) tool.CallableTool {
	if cfg == nil {
		cfg = &Config{}
	}
	return listDir{cfg: cfg.withDefaults()}
}

func (listDir) Name() string { return "list_dir" }
func (listDir) Description() string {
	return "List files and subdirectories under a directory, for exploring project structure."
}
func (listDir) Schema() map[string]any { return listDirSchema }

func (l listDir) Call(_ context.Context, args map[string]any) (string, error) {
	var a ListDirArgs
	if err := decode(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		a.Path = "."
	}
	fullPath, err := validatePath(l.cfg.WorkingDirectory, a.Path, l.cfg.AllowedReadPaths)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %s", a.Path)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", a.Path)
	}
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "DIR: %s\n", a.Path)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.Name() == "__pycache__" {
			continue
		}
		marker := "file"
		if e.IsDir() {
			marker = "dir"
		}
		fmt.Fprintf(&out, "  [%s] %s\n", marker, e.Name())
	}
	return out.String(), nil
}
