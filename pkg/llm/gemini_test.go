package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"google.golang.org/genai"

	"github.com/evermem/evermem/pkg/llm"
)

func fakeGeminiResponse(text, finishReason string) []byte {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": text}},
				},
				"finishReason": finishReason,
				"index":        0,
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     3,
			"candidatesTokenCount": 2,
			"totalTokenCount":      5,
		},
	})
	return b
}

func newGeminiClient(t *testing.T, baseURL string) *genai.Client {
	t.Helper()
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  "test-key",
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		t.Fatalf("genai.NewClient: %v", err)
	}
	return client
}

func TestGemini_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeGeminiResponse("extracted episode", "STOP"))
	}))
	defer srv.Close()

	g := llm.NewGemini(newGeminiClient(t, srv.URL), llm.WithModel("gemini-test"))

	out, err := g.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "extracted episode" {
		t.Errorf("out = %q, want %q", out, "extracted episode")
	}
}

func TestGemini_MultiPartText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := json.Marshal(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]any{
							{"text": "first "},
							{"text": "second"},
						},
					},
					"finishReason": "STOP",
				},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}))
	defer srv.Close()

	g := llm.NewGemini(newGeminiClient(t, srv.URL))

	out, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "first second" {
		t.Errorf("out = %q, want joined parts", out)
	}
}

func TestGemini_Truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeGeminiResponse("partial", "MAX_TOKENS"))
	}))
	defer srv.Close()

	g := llm.NewGemini(newGeminiClient(t, srv.URL))

	if _, err := g.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("Generate should fail on truncated output")
	}
}

func TestGemini_NoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "invalid request", "status": "INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	g := llm.NewGemini(newGeminiClient(t, srv.URL))

	if _, err := g.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("Generate should fail on 400")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", n)
	}
}

func TestGemini_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeGeminiResponse("recovered", "STOP"))
	}))
	defer srv.Close()

	g := llm.NewGemini(newGeminiClient(t, srv.URL))

	out, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "recovered" {
		t.Errorf("out = %q, want %q", out, "recovered")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestGemini_EmptyMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	g := llm.NewGemini(newGeminiClient(t, srv.URL))
	if _, err := g.Chat(context.Background(), nil); err != llm.ErrNoMessages {
		t.Fatalf("got %v, want ErrNoMessages", err)
	}

	// System-only exchanges have no content to send.
	_, err := g.Chat(context.Background(), []llm.Message{{Role: llm.RoleSystem, Content: "rules"}})
	if err == nil {
		t.Fatal("Chat should fail without user content")
	}
}
