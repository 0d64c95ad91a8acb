package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/tool"
)

type scriptedProvider struct {
	responses []*llmprovider.Response
	errs      []error
	calls     int
}

func (s *scriptedProvider) Chat(_ context.Context, _ llmprovider.Request) (*llmprovider.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}
func (s *scriptedProvider) ChatStream(context.Context, llmprovider.Request) (<-chan llmprovider.StreamChunk, error) {
	return nil, errors.New("not implemented")
}
func (s *scriptedProvider) Name() string { return "scripted" }

type echoTool struct{}

func (echoTool) Name() string          { return "echo" }
func (echoTool) Description() string   { return "echoes its arg" }
func (echoTool) Schema() map[string]any { return nil }
func (echoTool) Call(_ context.Context, args map[string]any) (string, error) {
	return "echoed", nil
}

func TestRunReturnsImmediatelyWithoutToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []*llmprovider.Response{{Content: "final answer"}}}
	res, err := Run(context.Background(), p, tool.NewRegistry(), llmprovider.Request{Model: "m"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "final answer", res.Content)
	assert.False(t, res.Escalated)
}

func TestRunDispatchesToolCallsThenReturnsFinalAnswer(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(echoTool{})

	p := &scriptedProvider{responses: []*llmprovider.Response{
		{ToolCalls: []llmprovider.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]any{}}}},
		{Content: "done"},
	}}
	res, err := Run(context.Background(), p, reg, llmprovider.Request{Model: "m"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	assert.Equal(t, 1, res.ToolRounds)
}

func TestRunDetectsEscalationMarker(t *testing.T) {
	p := &scriptedProvider{responses: []*llmprovider.Response{{Content: "too hard, [ESCALATE]"}}}
	res, err := Run(context.Background(), p, tool.NewRegistry(), llmprovider.Request{Model: "m"}, 5)
	require.NoError(t, err)
	assert.True(t, res.Escalated)
}

func TestRunReturnsErrorOnProviderFailure(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("connection reset")}, responses: []*llmprovider.Response{nil}}
	_, err := Run(context.Background(), p, tool.NewRegistry(), llmprovider.Request{Model: "m"}, 5)
	assert.Error(t, err)
}

func TestRunTerminatesGracefullyWhenStepLimitExhausted(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(echoTool{})

	resp := &llmprovider.Response{Content: "still working on it", ToolCalls: []llmprovider.ToolCall{{ID: "1", Name: "echo"}}}
	p := &scriptedProvider{responses: []*llmprovider.Response{resp, resp, resp}}
	res, err := Run(context.Background(), p, reg, llmprovider.Request{Model: "m"}, 3)
	require.NoError(t, err)
	assert.True(t, res.StepLimitReached)
	assert.Equal(t, "still working on it", res.Content)
	assert.Equal(t, 3, res.ToolRounds)
}
