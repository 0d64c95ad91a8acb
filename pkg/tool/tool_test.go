package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	result string
	err    error
	panics bool
}

func (s stubTool) Name() string             { return s.name }
func (s stubTool) Description() string      { return "stub" }
func (s stubTool) Schema() map[string]any    { return nil }
func (s stubTool) Call(_ context.Context, _ map[string]any) (string, error) {
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

func TestDispatchRoutesToRegisteredTool(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "echo", result: "hi"})

	res := r.Dispatch(context.Background(), Call{ID: "1", Name: "echo"})
	assert.Equal(t, "hi", res.Content)
	assert.Empty(t, res.Error)
	assert.Equal(t, "1", res.ToolCallID)
}

func TestDispatchUnknownToolReturnsErrorNotPanic(t *testing.T) {
	r := NewRegistry()
	res := r.Dispatch(context.Background(), Call{ID: "2", Name: "missing"})
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.Error, "missing")
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "boom", panics: true})

	res := r.Dispatch(context.Background(), Call{Name: "boom"})
	assert.Contains(t, res.Error, "panicked")
}

func TestDispatchSurfacesToolError(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "fail", err: errors.New("disk full")})

	res := r.Dispatch(context.Background(), Call{Name: "fail"})
	assert.Equal(t, "disk full", res.Error)
}

func TestRegisterOverridesExistingName(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "echo", result: "v1"})
	r.Register(stubTool{name: "echo", result: "v2"})

	res := r.Dispatch(context.Background(), Call{Name: "echo"})
	assert.Equal(t, "v2", res.Content)
}

func TestAllFiltersByPredicate(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "a"})
	r.Register(stubTool{name: "b"})

	tools := r.All(context.Background(), StringPredicate([]string{"a"}))
	require.Len(t, tools, 1)
	assert.Equal(t, "a", tools[0].Name())
}

type stubToolset struct {
	tools []Tool
}

func (s stubToolset) Name() string { return "stub-toolset" }
func (s stubToolset) Tools(context.Context) ([]Tool, error) { return s.tools, nil }

func TestDispatchFindsToolInAttachedToolset(t *testing.T) {
	r := NewRegistry()
	r.AddToolset(stubToolset{tools: []Tool{stubTool{name: "remote", result: "ok"}}})

	res := r.Dispatch(context.Background(), Call{Name: "remote"})
	assert.Equal(t, "ok", res.Content)
}

type schemaTool struct {
	stubTool
	schema map[string]any
}

func (s schemaTool) Schema() map[string]any { return s.schema }

func TestDispatchRejectsArgsViolatingSchemaWithoutCallingTool(t *testing.T) {
	r := NewRegistry()
	r.Register(schemaTool{
		stubTool: stubTool{name: "typed", result: "should not run"},
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}, "count": map[string]any{"type": "integer", "minimum": 1}},
			"required":   []any{"path", "count"},
		},
	})

	res := r.Dispatch(context.Background(), Call{Name: "typed", Args: map[string]any{"count": 0}})
	assert.Empty(t, res.Content)
	assert.Contains(t, res.Error, "invalid arguments")
	assert.Contains(t, res.Error, "path")
}

func TestDispatchAllowsArgsSatisfyingSchema(t *testing.T) {
	r := NewRegistry()
	r.Register(schemaTool{
		stubTool: stubTool{name: "typed", result: "ran"},
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	})

	res := r.Dispatch(context.Background(), Call{Name: "typed", Args: map[string]any{"path": "a.txt"}})
	assert.Equal(t, "ran", res.Content)
	assert.Empty(t, res.Error)
}
