package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/evermem/evermem/pkg/cache"
	"github.com/evermem/evermem/pkg/cli"
	"github.com/evermem/evermem/pkg/codec"
	"github.com/evermem/evermem/pkg/cortex"
	"github.com/evermem/evermem/pkg/embed"
	"github.com/evermem/evermem/pkg/kv"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/queue"
	"github.com/evermem/evermem/pkg/rerank"
	"github.com/evermem/evermem/pkg/storage"
)

// ---------------------------------------------------------------------------
// Runtime configuration
// ---------------------------------------------------------------------------

// resolveContext returns the selected context and the config base
// directory. Both context and directory may be empty when no config is
// available and none was explicitly requested; environment variables then
// carry the whole configuration.
func resolveContext() (*cli.Context, string, error) {
	cfg, err := GetConfig()
	if err != nil {
		if contextName != "" {
			return nil, "", err
		}
		return nil, "", nil
	}
	if contextName == "" && cfg.CurrentContext == "" {
		return nil, cfg.Dir(), nil
	}
	cctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		return nil, "", err
	}
	return cctx, cfg.Dir(), nil
}

// loadRuntimeConfig merges the environment settings with the selected
// context overlay.
func loadRuntimeConfig() (memory.Config, *cli.Context, string, error) {
	mc := memory.LoadConfig()
	cctx, baseDir, err := resolveContext()
	if err != nil {
		return mc, nil, "", err
	}
	if cctx != nil {
		cctx.Apply(&mc)
	}
	return mc, cctx, baseDir, nil
}

// resolveDataDir picks the document-store directory: the context's, then
// EVERMEM_DATA_DIR, then <config dir>/data/default.
func resolveDataDir(cctx *cli.Context, baseDir string) (string, error) {
	if cctx != nil {
		return cctx.DataPath(baseDir), nil
	}
	if dir := os.Getenv("EVERMEM_DATA_DIR"); dir != "" {
		return dir, nil
	}
	if baseDir != "" {
		return filepath.Join(baseDir, "data", "default"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, cli.DefaultBaseDir, "data", "default"), nil
}

// redisPrefix namespaces a key family under the optional global prefix.
func redisPrefix(mc memory.Config, name string) string {
	if mc.Queue.GlobalPrefix != "" {
		return mc.Queue.GlobalPrefix + ":" + name
	}
	return name
}

// ---------------------------------------------------------------------------
// Capability builders
// ---------------------------------------------------------------------------

func buildGenerator(ctx context.Context, mc memory.Config) (llm.Generator, error) {
	c := mc.LLM
	switch c.Provider {
	case "gemini", "google":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		var opts []llm.Option
		if c.Model != "" {
			opts = append(opts, llm.WithModel(c.Model))
		}
		return llm.NewGemini(client, opts...), nil
	default:
		// Every other provider speaks the OpenAI wire format.
		if c.APIKey == "" {
			slog.Warn("no LLM api key configured, generation calls will fail",
				"hint", "set LLM_API_KEY or 'evermem config set <ctx> llm.api_key ...'")
		}
		var opts []llm.Option
		if c.Model != "" {
			opts = append(opts, llm.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(c.BaseURL))
		}
		return llm.NewOpenAI(c.APIKey, opts...), nil
	}
}

// buildEmbedder returns nil when nothing points at an embedding backend;
// the service then runs lexical-only.
func buildEmbedder(mc memory.Config) embed.Embedder {
	c := mc.Vectorize
	if c.APIKey == "" && c.BaseURL == "" {
		return nil
	}
	var opts []embed.Option
	if c.Model != "" {
		opts = append(opts, embed.WithModel(c.Model))
	}
	if c.BaseURL != "" {
		opts = append(opts, embed.WithBaseURL(c.BaseURL))
	}
	if c.Timeout > 0 {
		opts = append(opts, embed.WithTimeout(c.Timeout))
	}
	opts = append(opts,
		embed.WithMaxRetries(c.MaxRetries),
		embed.WithBatchSize(c.BatchSize),
		embed.WithMaxConcurrent(c.MaxConcurrent),
		embed.WithEncodingFormat(embed.EncodingFormat(c.EncodingFormat)),
	)
	switch c.Provider {
	case "openai":
		return embed.NewOpenAI(c.APIKey, opts...)
	case "vllm":
		return embed.NewVLLM(c.APIKey, opts...)
	default:
		return embed.NewDeepInfra(c.APIKey, opts...)
	}
}

// buildReranker returns nil when no rerank backend is configured; fusion
// order then stands.
func buildReranker(mc memory.Config) rerank.Reranker {
	c := mc.Rerank
	if c.APIKey == "" && c.BaseURL == "" {
		return nil
	}
	var opts []rerank.Option
	if c.Model != "" {
		opts = append(opts, rerank.WithModel(c.Model))
	}
	if c.BaseURL != "" {
		opts = append(opts, rerank.WithBaseURL(c.BaseURL))
	}
	if c.Timeout > 0 {
		opts = append(opts, rerank.WithTimeout(c.Timeout))
	}
	opts = append(opts,
		rerank.WithMaxRetries(c.MaxRetries),
		rerank.WithBatchSize(c.BatchSize),
		rerank.WithMaxConcurrent(c.MaxConcurrent),
	)
	if c.Provider == "qwen" {
		opts = append(opts, rerank.WithQwenFormat())
	}
	return rerank.NewClient(c.APIKey, opts...)
}

// ---------------------------------------------------------------------------
// Service environment
// ---------------------------------------------------------------------------

// serviceEnv bundles an assembled service with the handles the command
// must release.
type serviceEnv struct {
	svc   *cortex.Service
	queue *queue.Queue
	store *kv.Badger
	rdb   *redis.Client
	dir   string
	cfg   memory.Config
}

func (e *serviceEnv) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
}

// openService assembles the full memory service for the selected context:
// badger-backed repositories (reindexed from disk), model providers and
// the Redis queue and caches.
func openService(ctx context.Context) (*serviceEnv, error) {
	mc, cctx, baseDir, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	dir, err := resolveDataDir(cctx, baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := kv.NewBadger(kv.BadgerOptions{Dir: filepath.Join(dir, "db")})
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	repos := memory.NewLocalRepos(store)
	n, err := memory.Reindex(ctx, store, repos)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("rebuild search indexes: %w", err)
	}
	slog.Debug("search indexes rebuilt", "entries", n, "dir", dir)

	gen, err := buildGenerator(ctx, mc)
	if err != nil {
		store.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     mc.Redis.Addr,
		Password: mc.Redis.Password,
		DB:       mc.Redis.DB,
	})
	mode, err := codec.ParseMode(mc.Queue.SerializationMode)
	if err != nil {
		slog.Warn("unknown serialization mode, using json", "error", err)
	}
	ser := codec.New(mode)

	q, err := queue.New(queue.Config{
		Client:         rdb,
		Prefix:         redisPrefix(mc, mc.Queue.KeyPrefix),
		Codec:          ser,
		MaxTotal:       mc.Queue.MaxTotalMessages,
		Expire:         time.Duration(mc.Queue.ExpireSeconds) * time.Second,
		ActivityExpire: time.Duration(mc.Queue.ActivityExpireSeconds) * time.Second,
	})
	if err != nil {
		store.Close()
		rdb.Close()
		return nil, err
	}
	history, err := cache.NewWindow(cache.WindowConfig{
		Client:   rdb,
		Prefix:   redisPrefix(mc, "history"),
		Codec:    ser,
		Location: mc.Timezone,
	})
	if err != nil {
		store.Close()
		rdb.Close()
		return nil, err
	}
	recents, err := cache.NewLength(cache.LengthConfig{
		Client:   rdb,
		Prefix:   redisPrefix(mc, "recents"),
		Codec:    ser,
		Location: mc.Timezone,
	})
	if err != nil {
		store.Close()
		rdb.Close()
		return nil, err
	}

	files, err := storage.NewLocal(filepath.Join(dir, "files"))
	if err != nil {
		store.Close()
		rdb.Close()
		return nil, fmt.Errorf("open file store: %w", err)
	}

	scenario := ""
	if cctx != nil {
		scenario = cctx.Scenario
	}
	svc, err := cortex.New(cortex.Config{
		Repos:          repos,
		Generator:      gen,
		Embedder:       buildEmbedder(mc),
		Reranker:       buildReranker(mc),
		Queue:          q,
		History:        history,
		Recents:        recents,
		Store:          files,
		Locale:         mc.Language,
		TZ:             mc.Timezone,
		EmbeddingModel: mc.Vectorize.Model,
		Scenario:       scenario,
		Logger:         slog.Default(),
	})
	if err != nil {
		store.Close()
		rdb.Close()
		return nil, err
	}
	return &serviceEnv{svc: svc, queue: q, store: store, rdb: rdb, dir: dir, cfg: mc}, nil
}

// ---------------------------------------------------------------------------
// Queue-only environment
// ---------------------------------------------------------------------------

// queueEnv is the lighter environment of the queue administration
// commands: Redis only, no document store and no model providers.
type queueEnv struct {
	q   *queue.Queue
	rdb *redis.Client
}

func (e *queueEnv) close() {
	_ = e.rdb.Close()
}

func openQueue() (*queueEnv, error) {
	mc, _, _, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     mc.Redis.Addr,
		Password: mc.Redis.Password,
		DB:       mc.Redis.DB,
	})
	mode, _ := codec.ParseMode(mc.Queue.SerializationMode)
	q, err := queue.New(queue.Config{
		Client:         rdb,
		Prefix:         redisPrefix(mc, mc.Queue.KeyPrefix),
		Codec:          codec.New(mode),
		MaxTotal:       mc.Queue.MaxTotalMessages,
		Expire:         time.Duration(mc.Queue.ExpireSeconds) * time.Second,
		ActivityExpire: time.Duration(mc.Queue.ActivityExpireSeconds) * time.Second,
	})
	if err != nil {
		rdb.Close()
		return nil, err
	}
	return &queueEnv{q: q, rdb: rdb}, nil
}
