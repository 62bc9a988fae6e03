package llm

import "net/http"

const (
	defaultMaxRetries    = 2
	defaultMaxConcurrent = 5

	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-2.0-flash"
)

// config holds shared configuration for generator implementations.
type config struct {
	model         string
	baseURL       string
	httpClient    *http.Client
	maxRetries    int
	maxConcurrent int
}

// Option configures a generator client.
type Option func(*config)

// WithModel sets the generation model name.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithMaxRetries sets how many times a failed call is retried
// (default 2, giving three attempts in total).
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithMaxConcurrent caps in-flight requests per client (default 5).
func WithMaxConcurrent(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}
