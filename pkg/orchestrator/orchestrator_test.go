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

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/checkpoint"
	"github.com/parallax-labs/conclave/pkg/config"
	"github.com/parallax-labs/conclave/pkg/hitl"
	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/persona"
	"github.com/parallax-labs/conclave/pkg/ratelimit"
	"github.com/parallax-labs/conclave/pkg/router"
	"github.com/parallax-labs/conclave/pkg/semcache"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// stubProvider returns queued responses in order, repeating the last one
// once exhausted, and counts how many times Chat was called.
type stubProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (s *stubProvider) Chat(_ context.Context, _ llmprovider.Request) (*llmprovider.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return &llmprovider.Response{Content: s.responses[idx]}, nil
}

func (s *stubProvider) ChatStream(context.Context, llmprovider.Request) (<-chan llmprovider.StreamChunk, error) {
	return nil, nil
}
func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// constEmbedder returns the same vector for every input, so any two
// queries compare as maximally similar — enough to exercise a cache hit
// without pulling in a real embedding model.
type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (constEmbedder) Dimension() int { return 3 }
func (constEmbedder) Model() string  { return "const" }
func (constEmbedder) Close() error   { return nil }

func newCheckpointStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type mapPersonaLoader map[string]*config.PersonaDocument

func (m mapPersonaLoader) Load(id string) (*config.PersonaDocument, error) {
	doc, ok := m[id]
	if !ok {
		return &config.PersonaDocument{ID: id, DisplayName: id, SystemPrompt: "you are " + id}, nil
	}
	return doc, nil
}

func newPersonaManager() *persona.Manager {
	return persona.NewManager(mapPersonaLoader{}, "worker")
}

func TestRunCacheHitShortCircuitsBeforeRouting(t *testing.T) {
	cache, err := semcache.New(semcache.Config{Embedder: constEmbedder{}})
	require.NoError(t, err)
	require.NoError(t, cache.Put(context.Background(), "what is the plan", "cached answer"))

	provider := &stubProvider{err: assert.AnError}
	o := New(DefaultConfig(), provider, provider, nil, cache, nil, nil, nil, nil, nil)

	state := sessionstate.New("worker")
	out, err := o.Run(context.Background(), state, "what is the plan")

	require.NoError(t, err)
	assert.True(t, out.CacheHit)
	assert.Equal(t, "cached answer", out.Response)
	assert.Equal(t, 0, provider.callCount())
}

func TestRunStickyRoutingSkipsReclassification(t *testing.T) {
	provider := &stubProvider{responses: []string{"plain text answer, no code"}}
	o := New(DefaultConfig(), provider, provider, nil, nil, nil, nil, nil, nil, nil)

	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Local))

	out, err := o.Run(context.Background(), state, "continue the previous task")

	require.NoError(t, err)
	assert.Equal(t, router.Local, out.Destination)
	assert.Equal(t, "plain text answer, no code", out.Response)
	assert.Equal(t, 1, provider.callCount())
}

func TestRunLocalEscalatesToCloudOnExhaustedValidationRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	cfg.MaxCriticRounds = 1

	local := &stubProvider{responses: []string{"```go\nfunc broken( {\n```"}}
	cloud := &stubProvider{responses: []string{"cloud rescued this"}}
	o := New(cfg, local, cloud, nil, nil, nil, nil, nil, nil, nil)

	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Local))

	out, err := o.Run(context.Background(), state, "write a broken function")

	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Equal(t, router.Cloud, out.Destination)
	assert.Equal(t, "cloud rescued this", out.Response)
	assert.Nil(t, state.CurrentAgent, "escalation must clear the sticky routing hint")
}

func TestRunLocalEscalatesImmediatelyOnWorkerEscalationMarker(t *testing.T) {
	cfg := DefaultConfig()

	local := &stubProvider{responses: []string{"too hard, [ESCALATE]"}}
	cloud := &stubProvider{responses: []string{"cloud took over"}}
	o := New(cfg, local, cloud, nil, nil, nil, nil, nil, nil, nil)

	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Local))

	out, err := o.Run(context.Background(), state, "something the worker can't do")

	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Equal(t, router.Cloud, out.Destination)
	assert.Equal(t, "cloud took over", out.Response)
	assert.Equal(t, 1, local.callCount(), "worker should escalate before any validation retry")
}

func TestRunCloudRespectsRateLimiter(t *testing.T) {
	cfg := DefaultConfig()
	cloud := &stubProvider{responses: []string{"should never be reached"}}
	limiter := ratelimit.New(1, time.Minute)
	limiter.TryAcquire() // exhaust the only slot up front

	o := New(cfg, cloud, cloud, nil, nil, nil, nil, nil, nil, limiter)
	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Cloud))

	_, err := o.Run(context.Background(), state, "design the overall system architecture")
	assert.Error(t, err)
	assert.Equal(t, 0, cloud.callCount())
}

func TestRunDebateEscalationSuspendsViaHITL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DebateAutoTriggerOnCloud = true
	cfg.DebateMaxRounds = 1

	// One provider backs both the cloud generation call and, since the
	// debate engine also runs on the cloud-tier model, its attack/judge
	// calls: responses are consumed in that order.
	provider := &stubProvider{responses: []string{
		"a risky cloud proposal",
		`{"attack_vectors":[{"severity":"high","finding":"unsafe"}],"recommendation":"ESCALATE"}`,
		`{"validity_score":9,"verdict":"ESCALATE","reasoning":"irreconcilable"}`,
	}}
	store := newCheckpointStore(t)
	ctl := hitl.NewController(store)

	o := New(cfg, provider, provider, nil, nil, store, newPersonaManager(), nil, ctl, nil)
	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Cloud))

	out, err := o.Run(context.Background(), state, "design the overall system architecture")

	require.NoError(t, err)
	assert.True(t, out.Suspended)
	assert.True(t, out.Escalated)
	assert.Equal(t, sessionstate.StatusSuspended, state.Status)
	assert.NotNil(t, state.HITL)

	pending, ok := ctl.GetPending(state.SessionID)
	assert.True(t, ok)
	assert.Contains(t, pending.Reason, "debate")
}

func TestRunCheckspointsMilestoneOnRespond(t *testing.T) {
	store := newCheckpointStore(t)
	provider := &stubProvider{responses: []string{"a plain answer"}}
	o := New(DefaultConfig(), provider, provider, nil, nil, store, nil, nil, nil, nil)

	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Local))

	_, err := o.Run(context.Background(), state, "say hello")
	require.NoError(t, err)

	checkpoints, err := store.List(state.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, checkpoints)

	found := false
	for _, cp := range checkpoints {
		if cp.Kind == checkpoint.KindMilestone && cp.Label == "RESPOND" {
			found = true
		}
	}
	assert.True(t, found, "expected a RESPOND milestone checkpoint")
}

func TestLockForReturnsSameMutexForSameSession(t *testing.T) {
	o := New(DefaultConfig(), nil, nil, nil, nil, nil, nil, nil, nil, nil)
	a := o.lockFor("session-1")
	b := o.lockFor("session-1")
	c := o.lockFor("session-2")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestRunSerializesConcurrentCallsForSameSession(t *testing.T) {
	provider := &stubProvider{responses: []string{"ok"}}
	o := New(DefaultConfig(), provider, provider, nil, nil, nil, nil, nil, nil, nil)
	state := sessionstate.New("worker")
	state.SetCurrentAgent(string(router.Local))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Run(context.Background(), state, "say hi")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), state.Step, "each Run call must fully commit its NextStep before the next begins")
}
