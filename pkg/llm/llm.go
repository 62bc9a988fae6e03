// Package llm provides text generation clients for memory extraction
// and retrieval reasoning.
//
// A Generator turns prompts into completions. Two providers are
// included:
//
//   - [OpenAI] — OpenAI chat completions API; also works against any
//     OpenAI-compatible gateway (vLLM, SiliconFlow, DeepInfra) via
//     WithBaseURL
//   - [Gemini] — Google Gemini API through the GenAI SDK
//
// Both cap in-flight requests per client and retry transient failures
// (transport errors, HTTP 429 and 5xx) with exponential backoff.
//
// Model output rarely arrives as clean JSON. [DecodeJSON] repairs
// malformed payloads, and [ExtractJSONObject] / [ExtractFencedJSON]
// pull the JSON out of prose or markdown fences before decoding.
//
// # Quick Start
//
//	g := llm.NewOpenAI("sk-xxx", llm.WithModel("gpt-4o-mini"))
//	out, err := g.Generate(ctx, "Summarize: ...", llm.WithTemperature(0))
package llm

import (
	"context"
	"errors"
)

// Role identifies the author of a chat message.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Generator produces text completions.
type Generator interface {
	// Generate returns the completion for a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...CallOption) (string, error)

	// Chat returns the completion for a multi-turn exchange.
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// Common errors.
var (
	// ErrNoMessages is returned when Chat is called with no messages.
	ErrNoMessages = errors.New("llm: no messages")

	// ErrEmptyCompletion is returned when the model produced no text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// callConfig holds per-call sampling parameters.
type callConfig struct {
	temperature *float64
	maxTokens   int
}

// CallOption adjusts sampling for a single Generate or Chat call.
type CallOption func(*callConfig)

// WithTemperature sets the sampling temperature. Zero is a valid value
// and is sent explicitly.
func WithTemperature(t float64) CallOption {
	return func(c *callConfig) { c.temperature = &t }
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) CallOption {
	return func(c *callConfig) { c.maxTokens = n }
}

func applyCallOptions(opts []CallOption) callConfig {
	var cc callConfig
	for _, o := range opts {
		o(&cc)
	}
	return cc
}
