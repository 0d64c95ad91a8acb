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

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parallax-labs/conclave/pkg/httpclient"
)

// OllamaEmbedder implements Embedder against a local Ollama server's
// /api/embed endpoint, the default backing for the semantic
// response cache: no network egress and no per-call cost, the same
// tradeoff the LOCAL completion tier makes.
type OllamaEmbedder struct {
	host       string
	model      string
	dimension  int
	httpClient *httpclient.Client
}

// NewOllamaEmbedder creates an embedder using model (e.g.
// "nomic-embed-text", dimension 768) against host.
func NewOllamaEmbedder(host, model string, dimension int) *OllamaEmbedder {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dimension == 0 {
		dimension = 768
	}
	return &OllamaEmbedder{
		host:      host,
		model:     model,
		dimension: dimension,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
	}
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }
func (e *OllamaEmbedder) Model() string  { return e.model }
func (e *OllamaEmbedder) Close() error   { return nil }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed converts a single piece of text to a vector embedding.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder: ollama returned no embeddings")
	}
	return vecs[0], nil
}

// EmbedBatch converts multiple texts to vector embeddings. It sends a
// single-input request to Ollama's /api/embed endpoint for each text,
// so n texts cost n round trips.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: text})
		if err != nil {
			return nil, fmt.Errorf("embedder: failed to encode request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embedder: failed to build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := e.httpClient.Do(ctx, httpReq)
		if err != nil {
			return nil, fmt.Errorf("embedder: request failed: %w", err)
		}

		raw, err := httpclient.ReadBody(httpResp)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}

		var parsed ollamaEmbedResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("embedder: failed to decode response: %w", err)
		}
		if len(parsed.Embeddings) == 0 {
			return nil, fmt.Errorf("embedder: ollama returned no embeddings")
		}
		out = append(out, parsed.Embeddings[0])
	}
	return out, nil
}

var _ Embedder = (*OllamaEmbedder)(nil)
