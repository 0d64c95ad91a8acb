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

// Package mcptoolset exposes tools from an external MCP (Model Context
// Protocol) server as a tool.Toolset, so the worker's capability set is
// not limited to what is registered in-process.
//
// Grounded on a lazy connect-on-first-Tools-call design (Config{Name,
// Command, Args, Env, Filter}), trimmed to the stdio transport: this
// orchestrator treats MCP purely as a tool-discovery mechanism rather
// than a multi-transport integration surface, so the SSE/streamable-
// HTTP paths a broader-scope client would carry are left out here
// rather than carried unused.
package mcptoolset

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/parallax-labs/conclave/pkg/tool"
)

// Config configures a stdio-transport MCP server.
type Config struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Filter  []string
}

// Toolset lazily connects to an MCP server and exposes its tools.
type Toolset struct {
	cfg       Config
	filterSet map[string]bool

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.Tool
	connected bool
}

// New creates an MCP-backed Toolset. The connection is established
// lazily on the first call to Tools.
func New(cfg Config) (*Toolset, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcptoolset: command is required")
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}
	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

func (t *Toolset) Name() string { return t.cfg.Name }

// Tools returns the tools exposed by the server, connecting on first use.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("mcptoolset: connect: %w", err)
		}
	}
	return t.tools, nil
}

func (t *Toolset) connect(ctx context.Context) error {
	env := make([]string, 0, len(t.cfg.Env))
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "conclave", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var tools []tool.Tool
	for _, mt := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mt.Name] {
			continue
		}
		tools = append(tools, &wrapped{toolset: t, name: mt.Name, desc: mt.Description, schema: convertSchema(mt.InputSchema)})
	}

	t.client = c
	t.tools = tools
	t.connected = true
	return nil
}

// Close releases the underlying MCP connection.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.connected = false
	t.tools = nil
	return err
}

type wrapped struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
}

func (w *wrapped) Name() string             { return w.name }
func (w *wrapped) Description() string      { return w.desc }
func (w *wrapped) Schema() map[string]any   { return w.schema }

func (w *wrapped) Call(ctx context.Context, args map[string]any) (string, error) {
	w.toolset.mu.Lock()
	c := w.toolset.client
	w.toolset.mu.Unlock()
	if c == nil {
		return "", fmt.Errorf("mcp client %q is not connected", w.toolset.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	combined := ""
	for i, tx := range texts {
		if i > 0 {
			combined += "\n"
		}
		combined += tx
	}
	if resp.IsError {
		if combined == "" {
			combined = "unknown MCP tool error"
		}
		return "", fmt.Errorf("%s", combined)
	}
	return combined, nil
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	return map[string]any{
		"type":       schema.Type,
		"properties": schema.Properties,
		"required":   schema.Required,
	}
}

var (
	_ tool.Toolset      = (*Toolset)(nil)
	_ tool.CallableTool = (*wrapped)(nil)
)
