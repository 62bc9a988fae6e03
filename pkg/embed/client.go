package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/evermem/evermem/pkg/encoding"
)

// apiClient is the OpenAI-compatible embeddings engine shared by all
// providers. It splits batches, runs sub-batches concurrently, retries
// transient failures, and decodes float or base64 vector payloads.
type apiClient struct {
	client      *openai.Client
	model       string
	dim         int
	sendDim     bool
	maxRetries  int
	batchSize   int
	encoding    EncodingFormat
	instruction string
	sem         chan struct{}
}

// newAPIClient builds the shared engine. sendDim controls whether the
// dimensions parameter is sent; self-hosted models with fixed dims
// reject it.
func newAPIClient(apiKey string, cfg config, sendDim bool) apiClient {
	httpClient := cfg.httpClient
	if cfg.timeout > 0 {
		hc := *httpClient
		hc.Timeout = cfg.timeout
		httpClient = &hc
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return apiClient{
		client:      &client,
		model:       cfg.model,
		dim:         cfg.dim,
		sendDim:     sendDim,
		maxRetries:  cfg.maxRetries,
		batchSize:   cfg.batchSize,
		encoding:    cfg.encoding,
		instruction: cfg.instruction,
		sem:         make(chan struct{}, cfg.maxConcurrent),
	}
}

// Embed returns the embedding for a single text.
func (c *apiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for multiple texts. Inputs are split
// into sub-batches issued concurrently under the concurrency cap;
// output order matches input order. Any failed sub-batch fails the
// whole call.
func (c *apiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	result := make([][]float32, len(texts))

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

	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))
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
			vecs, err := c.callAPI(ctx, texts[i:end])
			if err != nil {
				fail(fmt.Errorf("embed batch [%d:%d]: %w", i, end, err))
				return
			}
			copy(result[i:], vecs)
		}(i, end)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (c *apiClient) Dimension() int {
	return c.dim
}

// Model returns the model identifier requests are sent with.
func (c *apiClient) Model() string {
	return c.model
}

func (c *apiClient) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: c.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: c.instructed(texts)},
	}
	if c.sendDim && c.dim > 0 {
		params.Dimensions = openai.Int(int64(c.dim))
	}
	switch c.encoding {
	case EncodingBase64:
		params.EncodingFormat = openai.EmbeddingNewParamsEncodingFormatBase64
	default:
		params.EncodingFormat = openai.EmbeddingNewParamsEncodingFormatFloat
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

		resp, err := c.client.Embeddings.New(ctx, params)
		if err == nil {
			return c.decode(resp, len(texts))
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// instructed applies the Qwen-style instruction prefix when one is
// configured.
func (c *apiClient) instructed(texts []string) []string {
	if c.instruction == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = "Instruct: " + c.instruction + "\nQuery: " + t
	}
	return out
}

func (c *apiClient) decode(resp *openai.CreateEmbeddingResponse, n int) ([][]float32, error) {
	vecs := make([][]float32, n)
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(n) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, n)
		}
		if c.encoding == EncodingBase64 {
			vec, err := decodeBase64Vector(item.JSON.Embedding.Raw())
			if err != nil {
				return nil, fmt.Errorf("embedding %d: %w", idx, err)
			}
			vecs[idx] = vec
		} else {
			vecs[idx] = float64sToFloat32s(item.Embedding)
		}
	}

	// Verify all slots are filled.
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

// decodeBase64Vector unpacks the raw JSON string of a base64-encoded
// embedding into float32 values.
func decodeBase64Vector(raw string) ([]float32, error) {
	var data encoding.StdBase64Data
	if err := data.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, err
	}
	return data.Float32s()
}

// float64sToFloat32s converts a []float64 to []float32.
func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

// retryable reports whether an embeddings API error is transient.
// Rate limits and server-side failures are; request errors (4xx) are
// not. Non-API errors are treated as transport failures.
func retryable(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500
	}
	return true
}
