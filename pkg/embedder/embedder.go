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

// Package embedder defines the text-embedding boundary consumed by the
// semantic response cache. The embedding model itself is an opaque
// external collaborator; this package only fixes the shape every
// concrete provider must honor.
package embedder

import "context"

// Embedder converts text into dense vectors for nearest-neighbor lookup.
type Embedder interface {
	// Embed converts a single piece of text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vector embeddings in one
	// call. More efficient than repeated Embed calls for providers that
	// support batching.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector length this provider
	// produces. The Semantic Cache does not compare the vectors it
	// stores against this value.
	Dimension() int

	// Model identifies the embedding model in use, for diagnostics.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
