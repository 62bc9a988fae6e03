package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/cli"
	"github.com/evermem/evermem/pkg/queue"
)

func TestSetContextKey(t *testing.T) {
	ctx := &cli.Context{}

	pairs := map[string]string{
		"data_dir":        "/var/lib/evermem",
		"redis.addr":      "localhost:6379",
		"redis.password":  "s3cret",
		"redis.db":        "2",
		"llm.provider":    "openai",
		"llm.api_key":     "sk-xxx",
		"llm.model":       "gpt-4o-mini",
		"embedding.model": "Qwen/Qwen3-Embedding-4B",
		"rerank.base_url": "http://rerank.local/v1",
		"language":        "zh",
		"timezone":        "Asia/Shanghai",
		"scenario":        "assistant",
	}
	for k, v := range pairs {
		if err := setContextKey(ctx, k, v); err != nil {
			t.Fatalf("setContextKey(%s): %v", k, err)
		}
	}

	if ctx.DataDir != "/var/lib/evermem" || ctx.Redis.DB != 2 {
		t.Fatalf("context = %+v", ctx)
	}
	if ctx.LLM.APIKey != "sk-xxx" || ctx.Embedding.Model != "Qwen/Qwen3-Embedding-4B" {
		t.Fatalf("provider settings = %+v", ctx)
	}
	if ctx.Rerank.BaseURL != "http://rerank.local/v1" || ctx.Scenario != "assistant" {
		t.Fatalf("context = %+v", ctx)
	}

	if err := setContextKey(ctx, "redis.db", "not-a-number"); err == nil {
		t.Fatal("bad redis.db: got nil error")
	}
	if err := setContextKey(ctx, "no.such.key", "x"); err == nil {
		t.Fatal("unknown key: got nil error")
	}
}

func TestBuildMonitorFrame(t *testing.T) {
	styles := cli.NewStyles(cli.DefaultTheme)
	now := time.Now()

	stats := &queue.Stats{
		Counter:  12,
		Messages: 12,
		Partitions: []queue.PartitionStat{
			{Name: "003", Size: 2, OldestScore: now.Add(-90 * time.Second).UnixMilli(), TTL: time.Hour},
			{Name: "017", Size: 10, OldestScore: now.Add(-5 * time.Minute).UnixMilli(), TTL: time.Hour},
			{Name: "020", Size: 0},
		},
		Owners: []queue.OwnerStat{
			{ID: "cortex:abc", LastActive: now.Add(-3 * time.Second), Partitions: []string{"001", "002"}},
		},
	}

	out := buildMonitorFrame(styles, stats).Render(100)
	if !strings.Contains(out, "evermem queue") {
		t.Error("missing title")
	}
	// Busiest partition first, empty ones hidden.
	i17, i3 := strings.Index(out, "017"), strings.Index(out, "003")
	if i17 < 0 || i3 < 0 || i17 > i3 {
		t.Errorf("partition order wrong: 017 at %d, 003 at %d", i17, i3)
	}
	if strings.Contains(out, "020") {
		t.Error("empty partition should be hidden")
	}
	if !strings.Contains(out, "cortex:abc") || !strings.Contains(out, "2 partition(s)") {
		t.Error("missing owner row")
	}

	empty := buildMonitorFrame(styles, &queue.Stats{}).Render(100)
	if !strings.Contains(empty, "all partitions empty") || !strings.Contains(empty, "no owners registered") {
		t.Error("missing empty-state rows")
	}
}
