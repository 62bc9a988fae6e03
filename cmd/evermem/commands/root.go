package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
)

var (
	// Global flags.
	configPath  string
	contextName string
	outFormat   string
	outFile     string
	jqFilter    string
	verbose     bool

	// Global configuration, loaded at init time.
	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "evermem",
	Short: "Long-term conversational memory",
	Long: `evermem - long-term memory for conversational agents.

The system ingests raw chat messages, cuts them into closed conversation
slices and derives episodes, atomic facts and profiles from each slice.
Retrieval answers natural-language queries over hybrid dense + BM25
indexes, optionally through an agentic sufficiency loop.

Configuration lives in ~/.evermem/config.yaml as named contexts, kubectl
style. A context carries the data directory, the Redis backing the queue
and caches, and the model provider credentials; anything a context leaves
unset falls back to the environment (LLM_API_KEY, REDIS_ADDR, ...).

Examples:
  # Create a context and point it at a deployment
  evermem config add-context dev
  evermem config set dev llm.api_key sk-xxx
  evermem config use-context dev

  # Ingest and query
  evermem memorize -f messages.yaml
  evermem retrieve "what did alice promise" --user alice

  # Watch the work queue
  evermem queue monitor`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging, initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.evermem/config.yaml)")
	pf.StringVarP(&contextName, "context", "c", "", "configuration context (default: current context)")
	pf.StringVarP(&outFormat, "output", "o", "yaml", "output format: yaml, json or raw")
	pf.StringVar(&outFile, "output-file", "", "write results to a file instead of stdout")
	pf.StringVar(&jqFilter, "jq", "", "jq expression applied to results before rendering")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// configLoadErr stores the error from cli.LoadConfig for deferred
// reporting, so commands that never touch the config (version, extract
// with env credentials) still run.
var configLoadErr error

func initConfig() {
	cfg, err := cli.LoadConfigWithPath(configPath)
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration, retrying the load if init
// failed.
func GetConfig() (*cli.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := cli.LoadConfigWithPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose reports whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// output renders a command result honoring the global output flags.
func output(result any) error {
	return cli.Output(result, cli.OutputOptions{
		Format: cli.OutputFormat(outFormat),
		Filter: jqFilter,
		File:   outFile,
	})
}
