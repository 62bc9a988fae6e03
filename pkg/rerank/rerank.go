// Package rerank scores candidate documents against a query with a
// cross-encoder reranking service.
//
// [Client] speaks the OpenAI-compatible rerank HTTP protocol (POST
// {base}/rerank) served by vLLM, TEI, and DeepInfra deployments.
// Documents are split into batches issued in parallel and the scores
// merge into a single ranking.
//
// # Quick Start
//
//	r := rerank.NewClient(apiKey,
//	    rerank.WithBaseURL("http://localhost:8000/v1"),
//	    rerank.WithModel(rerank.ModelQwen3Reranker4B),
//	)
//	results, err := r.Rerank(ctx, "weekend hiking plans", docs, 5)
//
// Qwen reranker models deployed behind a bare scoring endpoint need
// the chat template applied client-side; enable it with
// [WithQwenFormat] or use [FormatQuery] and [FormatDocument] directly.
package rerank

import (
	"context"
	"errors"
)

// ErrNoDocuments is returned when Rerank is called without documents.
var ErrNoDocuments = errors.New("rerank: no documents")

// Reranker reorders candidate documents by relevance to a query.
type Reranker interface {
	// Rerank scores documents against the query and returns the topN
	// most relevant, sorted by score descending. topN <= 0 returns
	// every document.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

// Result is one reranked document.
type Result struct {
	// Index is the document's position in the input slice.
	Index int `json:"index"`

	// RelevanceScore is the model-assigned relevance; higher is more
	// relevant.
	RelevanceScore float64 `json:"relevance_score"`

	// Rank is the 1-based position after sorting by score.
	Rank int `json:"rank"`
}
