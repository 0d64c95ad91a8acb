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

// Package tool implements the Tool Registry & Dispatcher: a unified
// interface over statically registered and dynamically discovered
// (MCP) tools, with input validation and structured, never-raising
// error results.
//
// Grounded on an ADK-style interface hierarchy (Tool/CallableTool/
// Toolset/Predicate combinators, Definition, ToolCall/ToolResult),
// trimmed of the streaming/long-running/approval machinery this
// orchestrator does not need, and on the original prototype's
// utils/tools.py for the validate-then-execute dispatch order and its
// "never let a bad argument raise — return feedback" policy.
package tool

import (
	"context"
	"fmt"

	"github.com/parallax-labs/conclave/pkg/registry"
)

// Tool is the base interface every registered capability implements.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema for the tool's parameters, or nil
	// if the tool takes none.
	Schema() map[string]any
}

// CallableTool executes synchronously and returns its result as a
// string: never raises, always a structured result.
type CallableTool interface {
	Tool
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Predicate decides whether a tool should be available in a given
// context — used to enforce a persona's allow-list.
type Predicate func(tool Tool) bool

// StringPredicate allows only the named tools.
func StringPredicate(allowed []string) Predicate {
	set := make(map[string]bool, len(allowed))
	for _, n := range allowed {
		set[n] = true
	}
	return func(t Tool) bool { return set[t.Name()] }
}

// AllowAll allows every tool.
func AllowAll() Predicate { return func(Tool) bool { return true } }

// DenyAll allows no tool.
func DenyAll() Predicate { return func(Tool) bool { return false } }

// Combine ANDs predicates together.
func Combine(predicates ...Predicate) Predicate {
	return func(t Tool) bool {
		for _, p := range predicates {
			if !p(t) {
				return false
			}
		}
		return true
	}
}

// Or ORs predicates together.
func Or(predicates ...Predicate) Predicate {
	return func(t Tool) bool {
		for _, p := range predicates {
			if p(t) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(t Tool) bool { return !p(t) }
}

// Toolset groups tools discovered from an external provider (e.g. an
// MCP server) rather than registered statically at startup.
type Toolset interface {
	Name() string
	Tools(ctx context.Context) ([]Tool, error)
}

// Definition is the shape handed to an llmprovider.Request's Tools list.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a Tool to its LLM-facing Definition.
func ToDefinition(t Tool) Definition {
	return Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
}

// Call represents the model's request to invoke a named tool.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the outcome of dispatching a Call. Error is a
// human-readable, model-consumable string — dispatch never panics or
// returns a Go error for a bad tool call; every failure mode becomes
// feedback the worker can act on.
type Result struct {
	ToolCallID string
	Content    string
	Error      string
}

// Registry holds statically-registered tools plus dynamically
// discovered toolsets, and dispatches calls to either.
type Registry struct {
	tools    *registry.BaseRegistry[CallableTool]
	toolsets []Toolset
}

// NewRegistry creates an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{tools: registry.NewBaseRegistry[CallableTool]()}
}

// Register adds a statically-known tool. Re-registering an existing
// name overrides it with a warning-worthy replace rather than an error
// — a later registration (e.g. an MCP tool shadowing a built-in one) is
// assumed deliberate.
func (r *Registry) Register(t CallableTool) {
	_ = r.tools.Remove(t.Name())
	_ = r.tools.Register(t.Name(), t)
}

// AddToolset attaches an externally-discovered toolset (e.g. MCP).
func (r *Registry) AddToolset(ts Toolset) {
	r.toolsets = append(r.toolsets, ts)
}

// All returns every statically-registered tool plus every tool
// currently exposed by an attached toolset, filtered by pred.
func (r *Registry) All(ctx context.Context, pred Predicate) []Tool {
	if pred == nil {
		pred = AllowAll()
	}
	var out []Tool
	for _, t := range r.tools.List() {
		if pred(t) {
			out = append(out, t)
		}
	}
	for _, ts := range r.toolsets {
		discovered, err := ts.Tools(ctx)
		if err != nil {
			continue
		}
		for _, t := range discovered {
			if pred(t) {
				out = append(out, t)
			}
		}
	}
	return out
}

// Dispatch resolves call.Name and invokes it. It never returns a Go
// error: a missing tool, a panic inside the tool, or an execution
// failure all become Result.Error so the inference loop can feed the
// failure back to the model as the tool's own output.
func (r *Registry) Dispatch(ctx context.Context, call Call) (res Result) {
	res.ToolCallID = call.ID

	defer func() {
		if p := recover(); p != nil {
			res.Error = fmt.Sprintf("tool %q panicked: %v", call.Name, p)
		}
	}()

	t, ok := r.tools.Get(call.Name)
	if !ok {
		t, ok = r.findInToolsets(ctx, call.Name)
	}
	if !ok {
		res.Error = fmt.Sprintf("tool %q is not registered", call.Name)
		return res
	}

	if err := validateArgs(t, call.Args); err != nil {
		res.Error = err.Error()
		return res
	}

	content, err := t.Call(ctx, call.Args)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Content = content
	return res
}

func (r *Registry) findInToolsets(ctx context.Context, name string) (CallableTool, bool) {
	for _, ts := range r.toolsets {
		discovered, err := ts.Tools(ctx)
		if err != nil {
			continue
		}
		for _, t := range discovered {
			if t.Name() != name {
				continue
			}
			if ct, ok := t.(CallableTool); ok {
				return ct, true
			}
		}
	}
	return nil, false
}
