package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Client calls an OpenAI-compatible rerank endpoint.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxRetries  int
	batchSize   int
	instruction string
	qwenFormat  bool
	sem         chan struct{}
}

var _ Reranker = (*Client)(nil)

// NewClient creates a rerank client. The base URL defaults to a local
// vLLM server; point it at any service exposing POST {base}/rerank.
// The API key may be empty for unauthenticated deployments.
func NewClient(apiKey string, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	httpClient := cfg.httpClient
	if cfg.timeout > 0 {
		hc := *httpClient
		hc.Timeout = cfg.timeout
		httpClient = &hc
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(cfg.baseURL, "/"),
		apiKey:      apiKey,
		model:       cfg.model,
		maxRetries:  cfg.maxRetries,
		batchSize:   cfg.batchSize,
		instruction: cfg.instruction,
		qwenFormat:  cfg.qwenFormat,
		sem:         make(chan struct{}, cfg.maxConcurrent),
	}
}

// Model returns the model identifier requests are sent with.
func (c *Client) Model() string {
	return c.model
}

// Rerank scores documents against the query. Documents are split into
// batches issued concurrently under the concurrency cap; any failed
// batch fails the whole call. Scores merge into one ranking sorted by
// relevance descending with ranks assigned 1..n; topN > 0 truncates
// the ranking.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, ErrNoDocuments
	}

	q, docs, instruction := c.formatted(query, documents)

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for i := 0; i < len(docs); i += c.batchSize {
		end := min(i+c.batchSize, len(docs))
		wg.Add(1)
		go func(i, end int) {
			defer wg.Done()
			select {
			case c.sem <- struct{}{}:
				defer func() { <-c.sem }()
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
			resp, err := c.rerankBatch(ctx, q, docs[i:end], instruction)
			if err != nil {
				fail(fmt.Errorf("rerank batch [%d:%d]: %w", i, end, err))
				return
			}
			for _, r := range resp.Results {
				if r.Index < 0 || r.Index >= end-i {
					fail(fmt.Errorf("rerank batch [%d:%d]: unexpected result index %d", i, end, r.Index))
					return
				}
				scores[i+r.Index] = r.RelevanceScore
				seen[i+r.Index] = true
			}
		}(i, end)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	results := make([]Result, len(documents))
	for i := range documents {
		if !seen[i] {
			return nil, fmt.Errorf("rerank: missing relevance score for document %d", i)
		}
		results[i] = Result{Index: i, RelevanceScore: scores[i]}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].RelevanceScore > results[b].RelevanceScore
	})
	if topN > 0 && topN < len(results) {
		results = results[:topN]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// formatted applies client-side Qwen formatting when enabled. The
// instruction folds into the query text, so the wire field is dropped.
func (c *Client) formatted(query string, documents []string) (string, []string, string) {
	if !c.qwenFormat {
		return query, documents, c.instruction
	}
	docs := make([]string, len(documents))
	for i, d := range documents {
		docs[i] = FormatDocument(d)
	}
	return FormatQuery(query, c.instruction), docs, ""
}

type rerankRequest struct {
	Model       string   `json:"model"`
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Instruction string   `json:"instruction,omitempty"`
	TopN        int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// rerankBatch scores one batch of documents with retry support. top_n
// asks the service for every score in the batch; truncation happens
// after the merge.
func (c *Client) rerankBatch(ctx context.Context, query string, docs []string, instruction string) (*rerankResponse, error) {
	body, err := json.Marshal(rerankRequest{
		Model:       c.model,
		Query:       query,
		Documents:   docs,
		Instruction: instruction,
		TopN:        len(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s, ...
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if apiErr, ok := AsError(err); ok {
			if !apiErr.Retryable() {
				return nil, err
			}
		}
		// Non-API errors (network errors) are retryable.
	}
	return nil, lastErr
}

// post performs a single rerank request.
func (c *Client) post(ctx context.Context, body []byte) (*rerankResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(data, resp.StatusCode)
	}

	var out rerankResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}

// Error represents a rerank API error.
type Error struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the service.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rerank: %s (status=%d)", e.Message, e.StatusCode)
}

// Retryable reports whether the request can be retried.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AsError extracts *Error from an error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// parseError extracts an error message from a non-200 response body.
// vLLM puts it in message, OpenAI-style bodies nest it under error,
// FastAPI deployments use detail.
func parseError(body []byte, status int) error {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error.Message != "":
			msg = payload.Error.Message
		case payload.Detail != "":
			msg = payload.Detail
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &Error{StatusCode: status, Message: msg}
}
