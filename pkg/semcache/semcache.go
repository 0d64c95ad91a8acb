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

// Package semcache implements the semantic response cache: a
// nearest-neighbor lookup that short-circuits the LLM entirely for
// queries judged close enough to one already answered.
//
// Grounded on the original prototype's utils/semantic_cache.py
// (DEFAULT_THRESHOLD = 0.95 cosine similarity, NON_CACHEABLE_PATTERNS
// bypassing code/debug/file/escalate/CLI-style queries, get/put/count/
// clear), adapted to a pluggable vector store: an embedded chromem-go
// collection by default (pre-computed embeddings, no chromem-go
// EmbeddingFunc — the embedder package supplies vectors), or a remote
// Qdrant collection via Config.Backend for deployments sharing a cache
// across processes.
package semcache

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/parallax-labs/conclave/pkg/embedder"
)

// DefaultThreshold is the minimum cosine similarity for a cache hit.
const DefaultThreshold = 0.95

const collectionName = "response_cache"

// nonCacheable mirrors the prototype's bypass patterns: dynamic
// requests (code, debugging, file paths, escalation markers, CLI
// commands) must always reach the model, never a stale cached answer.
var nonCacheable = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(code|implement|write|debug|fix|refactor)`),
	regexp.MustCompile(`(?i)(file|project).*\.(go|py|ts|js|yaml|json|md)`),
	regexp.MustCompile(`\[ESCALATE\]`),
	regexp.MustCompile(`^/`),
}

// IsCacheable reports whether query is eligible for semantic caching.
func IsCacheable(query string) bool {
	for _, p := range nonCacheable {
		if p.MatchString(query) {
			return false
		}
	}
	return true
}

// Backend selects which vector store backs a Cache.
type Backend string

const (
	// BackendChromem is the default: an embedded, in-process chromem-go
	// collection, optionally persisted to a local directory.
	BackendChromem Backend = "chromem"
	// BackendQdrant points the cache at a remote Qdrant server, so the
	// cache can be shared across multiple orchestrator processes.
	BackendQdrant Backend = "qdrant"
)

// Cache is a nearest-neighbor response cache backed by either an
// in-process chromem-go collection or a remote Qdrant collection.
type Cache struct {
	embedder embedder.Embedder
	db       *chromem.DB
	qdrant   *qdrantStore

	threshold float32
	enabled   bool
}

// Config configures a Cache.
type Config struct {
	Embedder    embedder.Embedder
	Threshold   float32
	Backend     Backend // defaults to BackendChromem
	PersistPath string  // chromem-go only; optional, empty means in-memory
	Qdrant      QdrantConfig
}

// New creates a semantic Cache. If cfg.Embedder is nil the cache is
// disabled: Get always misses and Put is a no-op, mirroring the
// prototype's behavior when its encoder fails to initialize.
func New(cfg Config) (*Cache, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Embedder == nil {
		return &Cache{threshold: cfg.Threshold, enabled: false}, nil
	}

	if cfg.Backend == BackendQdrant {
		qs, err := newQdrantStore(cfg.Qdrant)
		if err != nil {
			return nil, err
		}
		return &Cache{embedder: cfg.Embedder, qdrant: qs, threshold: cfg.Threshold, enabled: true}, nil
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		d, err := chromem.NewPersistentDB(cfg.PersistPath, true)
		if err != nil {
			return nil, fmt.Errorf("semcache: open persistent db: %w", err)
		}
		db = d
	} else {
		db = chromem.NewDB()
	}

	return &Cache{embedder: cfg.Embedder, db: db, threshold: cfg.Threshold, enabled: true}, nil
}

func (c *Cache) collection() (*chromem.Collection, error) {
	identity := func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("semcache: embeddings must be pre-computed")
	}
	return c.db.GetOrCreateCollection(collectionName, nil, identity)
}

// Get returns a cached response for query if one exists within the
// similarity threshold, and whether the lookup was a hit.
func (c *Cache) Get(ctx context.Context, query string) (string, bool) {
	if !c.enabled || !IsCacheable(query) {
		return "", false
	}

	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return "", false
	}

	if c.qdrant != nil {
		content, similarity, found, err := c.qdrant.queryTop(ctx, vec)
		if err != nil || !found || similarity < c.threshold {
			return "", false
		}
		return content, true
	}

	col, err := c.collection()
	if err != nil || col.Count() == 0 {
		return "", false
	}

	results, err := col.QueryEmbedding(ctx, vec, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return "", false
	}

	top := results[0]
	if top.Similarity < c.threshold {
		return "", false
	}
	return top.Content, true
}

// Put stores a query/response pair for future lookups, skipping
// non-cacheable queries.
func (c *Cache) Put(ctx context.Context, query, response string) error {
	if !c.enabled || !IsCacheable(query) {
		return nil
	}

	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("semcache: embed query: %w", err)
	}

	if c.qdrant != nil {
		return c.qdrant.add(ctx, response, query, vec)
	}

	col, err := c.collection()
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        uuid.NewString(),
		Content:   response,
		Metadata:  map[string]string{"query": truncate(query, 500)},
		Embedding: vec,
	}
	return col.AddDocuments(ctx, []chromem.Document{doc}, 1)
}

// Count returns the number of cached entries.
func (c *Cache) Count() int {
	if !c.enabled {
		return 0
	}
	if c.qdrant != nil {
		return c.qdrant.count()
	}
	col, err := c.collection()
	if err != nil {
		return 0
	}
	return col.Count()
}

// Clear removes every cached entry.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	if c.qdrant != nil {
		return c.qdrant.clear(context.Background())
	}
	return c.db.DeleteCollection(collectionName)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
