package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
)

type stubProvider struct {
	resp *llmprovider.Response
	err  error
}

func (s *stubProvider) Chat(context.Context, llmprovider.Request) (*llmprovider.Response, error) {
	return s.resp, s.err
}
func (s *stubProvider) ChatStream(context.Context, llmprovider.Request) (<-chan llmprovider.StreamChunk, error) {
	return nil, nil
}
func (s *stubProvider) Name() string { return "stub" }

func TestRouteFastLocalMatchesBeforeCallingProvider(t *testing.T) {
	r := &Router{Provider: &stubProvider{err: errors.New("should not be called")}}
	d := r.Route(context.Background(), "please fix this bug in my function")
	assert.Equal(t, Local, d.Destination)
}

func TestRouteFastCloudMatchesBeforeCallingProvider(t *testing.T) {
	r := &Router{Provider: &stubProvider{err: errors.New("should not be called")}}
	d := r.Route(context.Background(), "help me design the overall system architecture")
	assert.Equal(t, Cloud, d.Destination)
}

func TestRouteFallsBackToLLMForAmbiguousMessage(t *testing.T) {
	r := &Router{Provider: &stubProvider{resp: &llmprovider.Response{
		Content: `{"thinking":"moderate","route":"CLOUD","reason":"needs deep reasoning"}`,
	}}}
	d := r.Route(context.Background(), "what should our product strategy be for next year")
	assert.Equal(t, Cloud, d.Destination)
	assert.Equal(t, "needs deep reasoning", d.Reason)
}

func TestRouteParsesRegexFallbackWhenJSONInvalid(t *testing.T) {
	raw := "<think>weighing options</think>\nROUTE: CLOUD\nREASON: complex tradeoffs\n"
	d := parseDecision(raw)
	assert.Equal(t, Cloud, d.Destination)
	assert.Equal(t, "complex tradeoffs", d.Reason)
	assert.Equal(t, "weighing options", d.Thinking)
}

func TestRouteDefaultsToLocalOnProviderFailure(t *testing.T) {
	r := &Router{Provider: &stubProvider{err: errors.New("connection reset")}}
	d := r.Route(context.Background(), "what is the best way to prove this theorem rigorously for arbitrary inputs")
	assert.Equal(t, Local, d.Destination)
}

func TestRouteDefaultsToLocalWhenDestinationUnrecognized(t *testing.T) {
	d := parseDecision(`{"route": "banana", "reason": "nonsense"}`)
	assert.Equal(t, Local, d.Destination)
}
