package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const (
	oaiFinishReasonStop   = "stop"
	oaiFinishReasonLength = "length"
)

// OpenAI implements [Generator] using the OpenAI chat completions API.
//
// This can also be used with any OpenAI-compatible provider by setting
// WithBaseURL.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
	sem        chan struct{}
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI generator.
//
// SDK-level retries are disabled; the generator runs its own retry
// loop so backoff behavior is uniform across providers.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := config{
		model:         defaultOpenAIModel,
		httpClient:    http.DefaultClient,
		maxRetries:    defaultMaxRetries,
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAI{
		client:     &client,
		model:      cfg.model,
		maxRetries: cfg.maxRetries,
		sem:        make(chan struct{}, cfg.maxConcurrent),
	}
}

// Model returns the model identifier requests are sent with.
func (g *OpenAI) Model() string {
	return g.model
}

// Generate returns the completion for a single user prompt.
func (g *OpenAI) Generate(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return g.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts...)
}

// Chat returns the completion for a multi-turn exchange. The
// concurrency slot is held across retries.
func (g *OpenAI) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	params := openai.ChatCompletionNewParams{
		Model: g.model,
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			return "", fmt.Errorf("llm: unexpected role: %s", m.Role)
		}
	}
	cc := applyCallOptions(opts)
	if cc.temperature != nil {
		params.Temperature = param.NewOpt(*cc.temperature)
	}
	if cc.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(cc.maxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s, ...
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := g.client.Chat.Completions.New(ctx, params)
		if err == nil {
			return oaiText(resp)
		}
		lastErr = err
		if !oaiRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func oaiText(resp *openai.ChatCompletion) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("llm: blocked: %s", choice.Message.Refusal)
	}
	switch choice.FinishReason {
	case oaiFinishReasonStop, "":
	case oaiFinishReasonLength:
		return "", errors.New("llm: generate truncated")
	default:
		return "", fmt.Errorf("llm: unexpected finish reason: %s", choice.FinishReason)
	}
	if choice.Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return choice.Message.Content, nil
}

// oaiRetryable reports whether a chat completion error is worth
// retrying. Rate limits and server-side failures are; request errors
// (4xx) are not. Non-API errors are treated as transport failures.
func oaiRetryable(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500
	}
	return true
}
