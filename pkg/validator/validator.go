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

// Package validator implements deterministic response validation:
// extracts fenced code blocks from a worker response and mechanically
// checks them, never trusting the model's own claim of correctness.
//
// Grounded on the original prototype's utils/validator.py
// (CODE_BLOCK_PATTERN regex, ast.parse() syntax layer, opt-in sandboxed
// subprocess execution layer with a timeout, ValidationResult shape).
// The prototype validates Python via ast.parse(); this port validates
// Go via go/parser and treats any other tagged language as "no
// deterministic checker available" — such blocks pass Layer 1 rather
// than being mistaken for errors, and the optional execution probe is
// restricted to the go language tag. Multiple blocks probe concurrently
// via errgroup, since each compiles in its own temp directory with no
// shared state.
package validator

import (
	"bytes"
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultSandboxTimeout bounds the optional probe, which only compiles
// the generated code, guarding against a hung `go build`.
const DefaultSandboxTimeout = 5 * time.Second

var codeBlockPattern = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\s*\\n(.*?)```")

// CodeBlock is one fenced block extracted from a response.
type CodeBlock struct {
	Language string
	Code     string
}

// Result is the outcome of validating a response.
type Result struct {
	Valid      bool
	HasCode    bool
	Errors     []string
	CodeBlocks []CodeBlock
}

// ExtractCodeBlocks finds every non-empty fenced code block in text.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		code := strings.TrimSpace(m[2])
		if code == "" {
			continue
		}
		blocks = append(blocks, CodeBlock{Language: strings.ToLower(strings.TrimSpace(m[1])), Code: code})
	}
	return blocks
}

var goLanguageTags = map[string]bool{"go": true, "golang": true}

// ValidateSyntax checks a Go code block with go/parser. Non-Go blocks
// have no deterministic checker in this repository and are reported
// valid — this validator only claims authority over what it can
// mechanically check.
func ValidateSyntax(block CodeBlock) error {
	if !goLanguageTags[block.Language] {
		return nil
	}

	fset := token.NewFileSet()
	src := block.Code
	if !looksLikeFile(src) {
		src = "package main\nfunc _() {\n" + src + "\n}\n"
	}
	if _, err := parser.ParseFile(fset, "snippet.go", src, parser.AllErrors); err != nil {
		return err
	}
	return nil
}

func looksLikeFile(code string) bool {
	return strings.Contains(code, "package ")
}

// SandboxResult is the outcome of an optional execution probe.
type SandboxResult struct {
	Success bool
	Error   string
	Stderr  string
}

// ExecuteInSandbox runs a Go source file through `go build` in an
// isolated temp directory, bounded by timeout, to catch errors go/parser
// cannot see (unresolved imports, type errors). This never executes the
// arbitrary code itself — only compiles it — since running
// worker-generated code with host privileges is out of scope.
func ExecuteInSandbox(ctx context.Context, block CodeBlock, timeout time.Duration) SandboxResult {
	if !goLanguageTags[block.Language] {
		return SandboxResult{Success: true}
	}
	if timeout <= 0 {
		timeout = DefaultSandboxTimeout
	}

	dir, err := os.MkdirTemp("", "validator-sandbox-*")
	if err != nil {
		return SandboxResult{Success: false, Error: fmt.Sprintf("sandbox setup failed: %v", err)}
	}
	defer os.RemoveAll(dir)

	src := block.Code
	if !looksLikeFile(src) {
		src = "package main\n\nfunc main() {\n" + src + "\n}\n"
	}
	srcPath := filepath.Join(dir, "snippet.go")
	if err := os.WriteFile(srcPath, []byte(src), 0644); err != nil {
		return SandboxResult{Success: false, Error: fmt.Sprintf("sandbox write failed: %v", err)}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "go", "build", "-o", filepath.Join(dir, "out"), srcPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cctx.Err() != nil {
			return SandboxResult{Success: false, Error: fmt.Sprintf("execution timed out (%s) — possible infinite loop or hang", timeout)}
		}
		lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
		last := "unknown error"
		if len(lines) > 0 {
			last = lines[len(lines)-1]
		}
		return SandboxResult{Success: false, Error: last, Stderr: stderr.String()}
	}
	return SandboxResult{Success: true}
}

// Validate runs the full pipeline: extract, then Layer 1 syntax check,
// then (opt-in) Layer 0 sandbox probe. A response with no code blocks
// passes validation unconditionally — it is a plain text response with
// nothing to mechanically check.
func Validate(ctx context.Context, response string, runSandbox bool, sandboxTimeout time.Duration) Result {
	blocks := ExtractCodeBlocks(response)
	if len(blocks) == 0 {
		return Result{Valid: true, HasCode: false}
	}

	var errs []string
	for i, b := range blocks {
		if err := ValidateSyntax(b); err != nil {
			errs = append(errs, fmt.Sprintf("[Block %d/Syntax] %v", i+1, err))
		}
	}

	if runSandbox && len(errs) == 0 {
		results := make([]SandboxResult, len(blocks))
		g, gctx := errgroup.WithContext(ctx)
		for i, b := range blocks {
			i, b := i, b
			g.Go(func() error {
				results[i] = ExecuteInSandbox(gctx, b, sandboxTimeout)
				return nil
			})
		}
		_ = g.Wait() // ExecuteInSandbox never returns an error from this closure, only via results[i]

		for i, r := range results {
			if !r.Success {
				errs = append(errs, fmt.Sprintf("[Block %d/Runtime] %s", i+1, r.Error))
			}
		}
	}

	return Result{
		Valid:      len(errs) == 0,
		HasCode:    true,
		Errors:     errs,
		CodeBlocks: blocks,
	}
}

// FormatErrorFeedback builds the retry message sent back to the worker
// when validation fails, instructing it to fix the named errors.
func FormatErrorFeedback(r Result) string {
	var b strings.Builder
	b.WriteString("[CODE ERROR] Your code contains errors that must be fixed.\n")
	b.WriteString("Address the following before responding again:\n\n")
	for _, e := range r.Errors {
		b.WriteString("  - ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with only the corrected code, no explanation.")
	return b.String()
}
