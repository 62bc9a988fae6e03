package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/llm"
)

type chatRequest struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeChatResponse(content, finishReason string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": finishReason,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     1,
			"completion_tokens": 1,
			"total_tokens":      2,
		},
	})
	return b
}

func decodeChatRequest(t *testing.T, r *http.Request) chatRequest {
	t.Helper()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestOpenAI_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeChatRequest(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeChatResponse("extracted memory", "stop"))
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key",
		llm.WithBaseURL(srv.URL),
		llm.WithModel("test-model"),
	)

	out, err := g.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "extracted memory" {
		t.Errorf("out = %q, want %q", out, "extracted memory")
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q, want %q", got.Model, "test-model")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want one user message", got.Messages)
	}
	if got.Messages[0].Content != "summarize this" {
		t.Errorf("content = %q", got.Messages[0].Content)
	}
	if got.Temperature != nil {
		t.Errorf("temperature = %v, want unset", *got.Temperature)
	}
}

func TestOpenAI_ChatRolesAndOptions(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeChatRequest(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeChatResponse("ok", "stop"))
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key", llm.WithBaseURL(srv.URL))

	_, err := g.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "you extract memories"},
		{Role: llm.RoleUser, Content: "conversation text"},
		{Role: llm.RoleAssistant, Content: "previous answer"},
		{Role: llm.RoleUser, Content: "refine it"},
	}, llm.WithTemperature(0), llm.WithMaxTokens(128))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	roles := make([]string, len(got.Messages))
	for i, m := range got.Messages {
		roles[i] = m.Role
	}
	want := []string{"system", "user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %q, want %q", i, roles[i], want[i])
		}
	}

	// Temperature zero must be sent explicitly, not dropped.
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", got.Temperature)
	}
}

func TestOpenAI_EmptyMessages(t *testing.T) {
	g := llm.NewOpenAI("test-key", llm.WithBaseURL("http://localhost:0"))
	if _, err := g.Chat(context.Background(), nil); err != llm.ErrNoMessages {
		t.Fatalf("got %v, want ErrNoMessages", err)
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeChatResponse("recovered", "stop"))
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key", llm.WithBaseURL(srv.URL))

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

func TestOpenAI_NoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "bad request"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key", llm.WithBaseURL(srv.URL))

	if _, err := g.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("Generate should fail on 400")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", n)
	}
}

func TestOpenAI_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key",
		llm.WithBaseURL(srv.URL),
		llm.WithMaxRetries(1),
	)

	if _, err := g.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("Generate should fail after exhausting retries")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2 (initial + 1 retry)", n)
	}
}

func TestOpenAI_Truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeChatResponse("partial outp", "length"))
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key", llm.WithBaseURL(srv.URL))

	if _, err := g.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("Generate should fail on truncated output")
	}
}

func TestOpenAI_MaxConcurrent(t *testing.T) {
	var (
		mu      sync.Mutex
		inUse   int
		maxSeen int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inUse++
		if inUse > maxSeen {
			maxSeen = inUse
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inUse--
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeChatResponse("ok", "stop"))
	}))
	defer srv.Close()

	g := llm.NewOpenAI("test-key",
		llm.WithBaseURL(srv.URL),
		llm.WithMaxConcurrent(1),
	)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := g.Generate(context.Background(), fmt.Sprintf("req-%d", i)); err != nil {
				t.Errorf("Generate: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if maxSeen > 1 {
		t.Errorf("max concurrent requests = %d, want 1", maxSeen)
	}
}
