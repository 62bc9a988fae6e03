package rerank

import (
	"net/http"
	"time"
)

// Qwen3 reranker models as hosted on DeepInfra or self-served with
// vLLM.
const (
	ModelQwen3Reranker06B = "Qwen/Qwen3-Reranker-0.6B"
	ModelQwen3Reranker4B  = "Qwen/Qwen3-Reranker-4B"
	ModelQwen3Reranker8B  = "Qwen/Qwen3-Reranker-8B"
)

const (
	defaultBaseURL       = "http://localhost:8000/v1"
	defaultModel         = ModelQwen3Reranker4B
	defaultBatchSize     = 16
	defaultMaxConcurrent = 5
	defaultMaxRetries    = 2
)

// config holds Client configuration.
type config struct {
	model         string
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	maxRetries    int
	batchSize     int
	maxConcurrent int
	instruction   string
	qwenFormat    bool
}

func defaultConfig() config {
	return config{
		model:         defaultModel,
		baseURL:       defaultBaseURL,
		httpClient:    http.DefaultClient,
		maxRetries:    defaultMaxRetries,
		batchSize:     defaultBatchSize,
		maxConcurrent: defaultMaxConcurrent,
	}
}

// Option configures a Client.
type Option func(*config)

// WithModel sets the rerank model name.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API base URL. The client posts to
// {base}/rerank.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithTimeout bounds each API request. Zero leaves the HTTP client's
// own timeout in charge.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how many times a failed API call is retried
// (default 2, giving three attempts in total).
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBatchSize sets the number of documents per API request
// (default 16).
func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithMaxConcurrent caps concurrent API requests per client
// (default 5).
func WithMaxConcurrent(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}

// WithInstruction sets the retrieval task description sent with each
// request. Under Qwen formatting it folds into the query text instead.
func WithInstruction(s string) Option {
	return func(c *config) { c.instruction = s }
}

// WithQwenFormat applies the Qwen reranker chat template to the query
// and documents client-side. Use it when the serving endpoint scores
// raw text pairs without rendering the template itself.
func WithQwenFormat() Option {
	return func(c *config) { c.qwenFormat = true }
}
