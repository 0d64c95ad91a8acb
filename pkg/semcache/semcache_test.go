package semcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns deterministic vectors: equal strings produce
// identical vectors; distinct strings usually produce different ones.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r)
	}
	return v, nil
}
func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}
func (stubEmbedder) Dimension() int   { return 4 }
func (stubEmbedder) Model() string    { return "stub" }
func (stubEmbedder) Close() error     { return nil }

func TestIsCacheableRejectsDynamicQueries(t *testing.T) {
	assert.False(t, IsCacheable("please implement a sorting function"))
	assert.False(t, IsCacheable("can you fix main.go"))
	assert.False(t, IsCacheable("[ESCALATE] this needs a human"))
	assert.False(t, IsCacheable("/checkpoint list"))
	assert.True(t, IsCacheable("what is your refund policy?"))
}

func TestGetMissesOnEmptyCache(t *testing.T) {
	c, err := New(Config{Embedder: stubEmbedder{}})
	require.NoError(t, err)

	_, hit := c.Get(context.Background(), "what is your refund policy?")
	assert.False(t, hit)
}

func TestPutThenGetHitsOnIdenticalQuery(t *testing.T) {
	c, err := New(Config{Embedder: stubEmbedder{}, Threshold: 0.99})
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), "what is your refund policy?", "30 days, no questions asked."))
	resp, hit := c.Get(context.Background(), "what is your refund policy?")
	assert.True(t, hit)
	assert.Equal(t, "30 days, no questions asked.", resp)
	assert.Equal(t, 1, c.Count())
}

func TestPutSkipsNonCacheableQuery(t *testing.T) {
	c, err := New(Config{Embedder: stubEmbedder{}})
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), "please implement a parser", "here you go"))
	assert.Equal(t, 0, c.Count())
}

func TestDisabledCacheWithoutEmbedderAlwaysMisses(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), "what is your refund policy?", "x"))
	_, hit := c.Get(context.Background(), "what is your refund policy?")
	assert.False(t, hit)
}

func TestClearRemovesEntries(t *testing.T) {
	c, err := New(Config{Embedder: stubEmbedder{}, Threshold: 0.99})
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), "what is your refund policy?", "30 days"))
	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Count())
}

func TestQdrantBackendSelectsQdrantStore(t *testing.T) {
	// No Qdrant server is reachable in this environment; the point of
	// this test is that Backend: BackendQdrant routes Cache through the
	// qdrantStore code path (c.qdrant populated, c.db left nil) rather
	// than that backend's network calls succeeding.
	c, err := New(Config{Embedder: stubEmbedder{}, Backend: BackendQdrant})
	require.NoError(t, err)
	assert.NotNil(t, c.qdrant)
	assert.Nil(t, c.db)
}
