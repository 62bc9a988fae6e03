package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/evermem/evermem/pkg/memory"
)

const (
	// DefaultBaseDir is the configuration directory under the user's home.
	DefaultBaseDir = ".evermem"
	// DefaultConfigFile is the configuration filename.
	DefaultConfigFile = "config.yaml"
)

// Config is the on-disk CLI configuration: named contexts plus the one
// currently in use, kubectl style.
type Config struct {
	// CurrentContext is the name of the currently active context.
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts maps context name to its settings.
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	configPath string
}

// Context is one named deployment: where the data lives, which Redis backs
// the queue and caches, and the credentials of the model providers. Empty
// fields fall back to the environment-driven defaults.
type Context struct {
	// Name is the context name.
	Name string `yaml:"name"`

	// DataDir is the local document-store directory. Defaults to
	// <config dir>/data/<context name>.
	DataDir string `yaml:"data_dir,omitempty"`

	// Redis locates the instance backing the queue and caches.
	Redis RedisSettings `yaml:"redis,omitempty"`

	// LLM, Embedding and Rerank carry the provider credentials.
	LLM       ProviderSettings `yaml:"llm,omitempty"`
	Embedding ProviderSettings `yaml:"embedding,omitempty"`
	Rerank    ProviderSettings `yaml:"rerank,omitempty"`

	// Language selects the prompt locale, "en" or "zh".
	Language string `yaml:"language,omitempty"`

	// Timezone anchors naive timestamps, e.g. "Asia/Shanghai".
	Timezone string `yaml:"timezone,omitempty"`

	// Scenario labels the profile versions written by this context.
	Scenario string `yaml:"scenario,omitempty"`
}

// RedisSettings locates a Redis instance.
type RedisSettings struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ProviderSettings carries the credentials of one model capability.
type ProviderSettings struct {
	Provider string `yaml:"provider,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// LoadConfig loads ~/.evermem/config.yaml, creating an empty one on first
// use.
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath("")
}

// LoadConfigWithPath loads configuration from a custom path; an empty path
// falls back to the default location.
func LoadConfigWithPath(customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		configPath = filepath.Join(home, DefaultBaseDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	cfg := &Config{
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	cfg.configPath = configPath
	return cfg, nil
}

// Save writes the configuration back to disk. Contexts hold credentials,
// hence the tight mode.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path.
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds or replaces a context and persists the change.
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	c.Contexts[name] = ctx
	return c.Save()
}

// DeleteContext removes a context, clearing the current selection if it
// pointed there.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns the named context.
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the current context.
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set, run 'evermem config use'")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the context by name, or the current one if name is
// empty.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names, sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DataPath returns the context's document-store directory, defaulting to
// <baseDir>/data/<context name>.
func (ctx *Context) DataPath(baseDir string) string {
	if ctx.DataDir != "" {
		return ctx.DataDir
	}
	return filepath.Join(baseDir, "data", ctx.Name)
}

// Apply overlays the context's non-empty settings onto an environment
// config, so a context overrides only what it sets.
func (ctx *Context) Apply(cfg *memory.Config) {
	if ctx.Redis.Addr != "" {
		cfg.Redis.Addr = ctx.Redis.Addr
		cfg.Redis.Password = ctx.Redis.Password
		cfg.Redis.DB = ctx.Redis.DB
	}
	applyProvider(ctx.LLM, &cfg.LLM.Provider, &cfg.LLM.APIKey, &cfg.LLM.BaseURL, &cfg.LLM.Model)
	applyProvider(ctx.Embedding, &cfg.Vectorize.Provider, &cfg.Vectorize.APIKey, &cfg.Vectorize.BaseURL, &cfg.Vectorize.Model)
	applyProvider(ctx.Rerank, &cfg.Rerank.Provider, &cfg.Rerank.APIKey, &cfg.Rerank.BaseURL, &cfg.Rerank.Model)
	if ctx.Language != "" {
		cfg.Language = ctx.Language
	}
	if ctx.Timezone != "" {
		if loc, err := time.LoadLocation(ctx.Timezone); err == nil {
			cfg.Timezone = loc
		}
	}
}

func applyProvider(s ProviderSettings, provider, apiKey, baseURL, model *string) {
	if s.Provider != "" {
		*provider = s.Provider
	}
	if s.APIKey != "" {
		*apiKey = s.APIKey
	}
	if s.BaseURL != "" {
		*baseURL = s.BaseURL
	}
	if s.Model != "" {
		*model = s.Model
	}
}

// MaskAPIKey masks an API key for display.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
