package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

// Gemini implements [Generator] using the Google Gemini API.
type Gemini struct {
	client     *genai.Client
	model      string
	maxRetries int
	sem        chan struct{}
}

var _ Generator = (*Gemini)(nil)

// NewGemini creates a Gemini generator on top of an existing GenAI
// client. WithBaseURL and WithHTTPClient have no effect here; configure
// those on the client itself.
func NewGemini(client *genai.Client, opts ...Option) *Gemini {
	cfg := config{
		model:         defaultGeminiModel,
		maxRetries:    defaultMaxRetries,
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Gemini{
		client:     client,
		model:      cfg.model,
		maxRetries: cfg.maxRetries,
		sem:        make(chan struct{}, cfg.maxConcurrent),
	}
}

// Model returns the model identifier requests are sent with.
func (g *Gemini) Model() string {
	return g.model
}

// Generate returns the completion for a single user prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return g.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts...)
}

// Chat returns the completion for a multi-turn exchange. System
// messages become the system instruction; consecutive same-role turns
// are sent as-is.
func (g *Gemini) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	cfg, contents, err := g.convMessages(messages)
	if err != nil {
		return "", err
	}
	cc := applyCallOptions(opts)
	if cc.temperature != nil {
		t := float32(*cc.temperature)
		cfg.Temperature = &t
	}
	if cc.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(cc.maxTokens)
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

		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err == nil {
			return geminiText(resp)
		}
		lastErr = err
		if !geminiRetryable(err) {
			if e, ok := err.(*apierror.APIError); ok {
				return "", e.Unwrap()
			}
			return "", err
		}
	}
	if e, ok := lastErr.(*apierror.APIError); ok {
		return "", e.Unwrap()
	}
	return "", lastErr
}

func (g *Gemini) convMessages(messages []Message) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := &genai.GenerateContentConfig{}

	var (
		system   []*genai.Part
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, genai.NewPartFromText(m.Content))
		case RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		default:
			return nil, nil, fmt.Errorf("llm: unexpected role: %s", m.Role)
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("llm: no user content")
	}
	return cfg, contents, nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", errors.New("llm: no candidates")
	}
	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified:
	case genai.FinishReasonMaxTokens:
		return "", errors.New("llm: generate truncated")
	default:
		return "", fmt.Errorf("llm: unexpected finish reason: %s", cand.FinishReason)
	}
	if cand.Content == nil {
		return "", ErrEmptyCompletion
	}
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

func geminiRetryable(err error) bool {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return ae.Code == http.StatusTooManyRequests || ae.Code >= 500
	}
	var ge *apierror.APIError
	if errors.As(err, &ge) {
		code := ge.HTTPCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return true
}
