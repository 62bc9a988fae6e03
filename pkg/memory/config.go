package memory

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config aggregates the environment-driven settings of the memory system.
// [LoadConfig] fills it from the process environment; the composition root
// turns it into concrete providers.
type Config struct {
	// Language selects the prompt and error-message locale, "en" or "zh".
	Language string

	// Timezone anchors naive timestamps and date comparisons. Taken from
	// TZ, defaulting to Asia/Shanghai.
	Timezone *time.Location

	LLM       LLMConfig
	Vectorize VectorizeConfig
	Rerank    RerankConfig
	Queue     QueueConfig
	Redis     RedisConfig
}

// LLMConfig configures the chat/generation capability.
type LLMConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// VectorizeConfig configures the embedding capability.
type VectorizeConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	BatchSize      int
	MaxConcurrent  int
	EncodingFormat string
}

// RerankConfig configures the rerank capability.
type RerankConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	BatchSize     int
	MaxConcurrent int
}

// QueueConfig configures the partitioned work queue and its background
// loops.
type QueueConfig struct {
	KeyPrefix              string
	GlobalPrefix           string
	SerializationMode      string
	MaxTotalMessages       int
	ExpireSeconds          int
	ActivityExpireSeconds  int
	EnableMetrics          bool
	LogIntervalSeconds     int
	CleanupIntervalSeconds int
}

// RedisConfig locates the Redis backing the queue and caches.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoadConfig reads the recognized environment variables, applying defaults
// for everything unset. It never fails: an unknown language, an unloadable
// timezone or a malformed numeric value falls back to its default with a
// warning.
func LoadConfig() Config {
	return Config{
		Language: loadLanguage(),
		Timezone: loadTimezone(),
		LLM: LLMConfig{
			Provider:    getEnvOrDefault("LLM_PROVIDER", "openai"),
			Model:       os.Getenv("LLM_MODEL"),
			BaseURL:     os.Getenv("LLM_BASE_URL"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			Temperature: envFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   envInt("LLM_MAX_TOKENS", 0),
		},
		Vectorize: VectorizeConfig{
			Provider:       getEnvOrDefault("VECTORIZE_PROVIDER", "deepinfra"),
			APIKey:         os.Getenv("VECTORIZE_API_KEY"),
			BaseURL:        os.Getenv("VECTORIZE_BASE_URL"),
			Model:          os.Getenv("VECTORIZE_MODEL"),
			Timeout:        time.Duration(envInt("VECTORIZE_TIMEOUT", 30)) * time.Second,
			MaxRetries:     envInt("VECTORIZE_MAX_RETRIES", 2),
			BatchSize:      envInt("VECTORIZE_BATCH_SIZE", 10),
			MaxConcurrent:  envInt("VECTORIZE_MAX_CONCURRENT", 5),
			EncodingFormat: getEnvOrDefault("VECTORIZE_ENCODING_FORMAT", "float"),
		},
		Rerank: RerankConfig{
			Provider:      getEnvOrDefault("RERANK_PROVIDER", "vllm"),
			APIKey:        os.Getenv("RERANK_API_KEY"),
			BaseURL:       os.Getenv("RERANK_BASE_URL"),
			Model:         os.Getenv("RERANK_MODEL"),
			Timeout:       time.Duration(envInt("RERANK_TIMEOUT", 30)) * time.Second,
			MaxRetries:    envInt("RERANK_MAX_RETRIES", 2),
			BatchSize:     envInt("RERANK_BATCH_SIZE", 16),
			MaxConcurrent: envInt("RERANK_MAX_CONCURRENT", 5),
		},
		Queue: QueueConfig{
			KeyPrefix:              getEnvOrDefault("REDIS_QUEUE_KEY_PREFIX", "memq"),
			GlobalPrefix:           os.Getenv("GLOBAL_REDIS_PREFIX"),
			SerializationMode:      getEnvOrDefault("REDIS_QUEUE_SERIALIZATION_MODE", "json"),
			MaxTotalMessages:       envInt("REDIS_QUEUE_MAX_TOTAL_MESSAGES", 20000),
			ExpireSeconds:          envInt("REDIS_QUEUE_EXPIRE_SECONDS", 86400),
			ActivityExpireSeconds:  envInt("REDIS_QUEUE_ACTIVITY_EXPIRE_SECONDS", 600),
			EnableMetrics:          envBool("REDIS_QUEUE_ENABLE_METRICS", false),
			LogIntervalSeconds:     envInt("REDIS_QUEUE_LOG_INTERVAL_SECONDS", 60),
			CleanupIntervalSeconds: envInt("REDIS_QUEUE_CLEANUP_INTERVAL_SECONDS", 300),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
	}
}

// DefaultTimezone is used when TZ is unset.
const DefaultTimezone = "Asia/Shanghai"

func loadLanguage() string {
	lang := os.Getenv("MEMORY_LANGUAGE")
	switch lang {
	case "":
		return "en"
	case "en", "zh":
		return lang
	}
	slog.Warn("unsupported MEMORY_LANGUAGE, falling back to en", "value", lang)
	return "en"
}

func loadTimezone() *time.Location {
	name := getEnvOrDefault("TZ", DefaultTimezone)
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("cannot load timezone, falling back to UTC", "tz", name, "error", err)
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default",
			"key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float in environment, using default",
			"key", key, "value", v, "default", def)
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default",
			"key", key, "value", v, "default", def)
		return def
	}
	return b
}
