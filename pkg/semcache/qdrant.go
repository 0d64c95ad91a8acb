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

package semcache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig points a Cache at a remote Qdrant server instead of the
// default in-process chromem-go collection, for deployments that want
// the cache shared across multiple orchestrator processes.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func (c QdrantConfig) withDefaults() QdrantConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	return c
}

// qdrantStore implements store against a remote Qdrant collection,
// created lazily on first Add since its vector dimension isn't known
// until the first embedding arrives.
type qdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	// points tracks the number of points this process has upserted.
	// qdrant's gRPC surface exposes point counts via collection
	// snapshots rather than a cheap synchronous call, so Cache.Count
	// reports this process's view rather than round-tripping the
	// server on every call.
	points atomic.Int64
}

func newQdrantStore(cfg QdrantConfig) (*qdrantStore, error) {
	cfg = cfg.withDefaults()
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("semcache: connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &qdrantStore{client: client, cfg: cfg}, nil
}

func (s *qdrantStore) ensureCollection(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("semcache: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (s *qdrantStore) add(ctx context.Context, content, query string, vec []float32) error {
	if err := s.ensureCollection(ctx, len(vec)); err != nil {
		return err
	}
	contentVal, err := qdrant.NewValue(content)
	if err != nil {
		return fmt.Errorf("semcache: qdrant payload value: %w", err)
	}
	queryVal, err := qdrant.NewValue(truncate(query, 500))
	if err != nil {
		return fmt.Errorf("semcache: qdrant payload value: %w", err)
	}
	payload := map[string]*qdrant.Value{
		"content": contentVal,
		"query":   queryVal,
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(uuid.NewString()),
		Vectors: qdrant.NewVectors(vec...),
		Payload: payload,
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return fmt.Errorf("semcache: qdrant upsert: %w", err)
	}
	s.points.Add(1)
	return nil
}

func (s *qdrantStore) queryTop(ctx context.Context, vec []float32) (content string, similarity float32, found bool, err error) {
	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil || !exists {
		return "", 0, false, err
	}
	results, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: collectionName,
		Vector:         vec,
		Limit:          1,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("semcache: qdrant search: %w", err)
	}
	if len(results.Result) == 0 {
		return "", 0, false, nil
	}
	top := results.Result[0]
	if v, ok := top.Payload["content"]; ok {
		content = v.GetStringValue()
	}
	return content, top.Score, true, nil
}

func (s *qdrantStore) count() int {
	return int(s.points.Load())
}

func (s *qdrantStore) clear(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, collectionName); err != nil {
		return fmt.Errorf("semcache: qdrant delete collection: %w", err)
	}
	s.points.Store(0)
	return nil
}
