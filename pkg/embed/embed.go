// Package embed provides a text embedding interface and remote API
// implementations.
//
// An Embedder converts text into dense vector representations
// (embeddings) suitable for semantic memory search and clustering.
//
// # Implementations
//
// Three OpenAI-compatible providers are included:
//
//   - [OpenAI] — text-embedding-3-small / text-embedding-3-large
//   - [DeepInfra] — hosted Qwen3 embedding models
//   - [VLLM] — self-hosted vLLM embedding endpoint
//
// All of them split batches (default 10 inputs per request), run
// sub-batches concurrently under a cap, retry transient failures, and
// can request base64-packed vectors for smaller responses.
//
// # Quick Start
//
//	e := embed.NewOpenAI("sk-xxx", embed.WithModel("text-embedding-3-small"))
//	vec, err := e.Embed(ctx, "hello world")
//
//	vecs, err := e.EmbedBatch(ctx, []string{"hello", "world"})
package embed

import (
	"context"
	"errors"
)

// Embedder converts text into dense float32 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embedding vectors for multiple texts.
	// Implementations may split large batches into smaller API calls
	// transparently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// Common errors.
var (
	// ErrEmptyInput is returned when the input text is empty.
	ErrEmptyInput = errors.New("embed: empty input")
)
