package embed

import (
	"net/http"
	"time"
)

// EncodingFormat selects the wire format embedding vectors come back in.
type EncodingFormat string

// Supported encoding formats.
const (
	// EncodingFloat asks for plain JSON float arrays.
	EncodingFloat EncodingFormat = "float"

	// EncodingBase64 asks for base64-packed little-endian float32
	// payloads, roughly 4x smaller on the wire for large batches.
	EncodingBase64 EncodingFormat = "base64"
)

const (
	defaultBatchSize     = 10
	defaultMaxConcurrent = 5
	defaultMaxRetries    = 2
)

// config holds shared configuration for embedder implementations.
type config struct {
	model         string
	dim           int
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	maxRetries    int
	batchSize     int
	maxConcurrent int
	encoding      EncodingFormat
	instruction   string
}

func defaultConfig() config {
	return config{
		httpClient:    http.DefaultClient,
		maxRetries:    defaultMaxRetries,
		batchSize:     defaultBatchSize,
		maxConcurrent: defaultMaxConcurrent,
		encoding:      EncodingFloat,
	}
}

// Option configures an embedder.
type Option func(*config)

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDimension sets the desired output vector dimensionality.
// Not all models support this (Qwen3 embeddings have fixed dims per
// model size).
func WithDimension(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithBaseURL overrides the API base URL.
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

// WithBatchSize sets the number of inputs per API request (default 10).
func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithMaxConcurrent caps concurrent API requests per embedder
// (default 5).
func WithMaxConcurrent(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}

// WithEncodingFormat selects float or base64 responses (default float).
func WithEncodingFormat(f EncodingFormat) Option {
	return func(c *config) { c.encoding = f }
}

// WithInstruction prefixes every input with a Qwen-style instruction
// block ("Instruct: ...\nQuery: ..."). Register a separate embedder
// instance for queries when documents must stay raw.
func WithInstruction(s string) Option {
	return func(c *config) { c.instruction = s }
}
