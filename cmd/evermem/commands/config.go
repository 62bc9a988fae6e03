package commands

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage configuration contexts.

A context names one deployment: its data directory, the Redis backing the
queue and caches, and the model provider credentials. Keys use dotted
paths:

  data_dir              redis.addr      redis.password    redis.db
  llm.provider          llm.api_key     llm.base_url      llm.model
  embedding.provider    embedding.api_key  embedding.base_url  embedding.model
  rerank.provider       rerank.api_key  rerank.base_url   rerank.model
  language              timezone        scenario

Examples:
  evermem config add-context dev
  evermem config set dev llm.api_key sk-xxx
  evermem config set dev redis.addr localhost:6379
  evermem config use-context dev
  evermem config view dev`,
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"ls"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		names := cfg.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("Create one with: evermem config add-context <name>")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tREDIS\tLLM")
		for _, name := range names {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			ctx := cfg.Contexts[name]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", current, name, ctx.Redis.Addr, ctx.LLM.Provider)
		}
		return w.Flush()
	},
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Create a new context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		name := args[0]
		if _, ok := cfg.Contexts[name]; ok {
			return fmt.Errorf("context %q already exists", name)
		}
		if err := cfg.AddContext(name, &cli.Context{}); err != nil {
			return err
		}
		fmt.Printf("Context %q created.\n", name)
		fmt.Printf("Configure it with: evermem config set %s <key> <value>\n", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Context %q deleted.\n", args[0])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Current context set to %q.\n", args[0])
		return nil
	},
}

var configCurrentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Show the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set.")
			return nil
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <key> <value>",
	Short: "Set a context value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctx, err := cfg.GetContext(args[0])
		if err != nil {
			return err
		}
		if err := setContextKey(ctx, args[1], args[2]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Set %s in context %q.\n", args[1], args[0])
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view [context]",
	Short: "Show a context with masked credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		ctx, err := cfg.ResolveContext(name)
		if err != nil {
			return err
		}
		masked := *ctx
		masked.Redis.Password = cli.MaskAPIKey(ctx.Redis.Password)
		masked.LLM.APIKey = cli.MaskAPIKey(ctx.LLM.APIKey)
		masked.Embedding.APIKey = cli.MaskAPIKey(ctx.Embedding.APIKey)
		masked.Rerank.APIKey = cli.MaskAPIKey(ctx.Rerank.APIKey)
		return output(masked)
	},
}

func setContextKey(ctx *cli.Context, key, value string) error {
	switch key {
	case "data_dir":
		ctx.DataDir = value
	case "redis.addr":
		ctx.Redis.Addr = value
	case "redis.password":
		ctx.Redis.Password = value
	case "redis.db":
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("redis.db must be an integer: %w", err)
		}
		ctx.Redis.DB = db
	case "llm.provider":
		ctx.LLM.Provider = value
	case "llm.api_key":
		ctx.LLM.APIKey = value
	case "llm.base_url":
		ctx.LLM.BaseURL = value
	case "llm.model":
		ctx.LLM.Model = value
	case "embedding.provider":
		ctx.Embedding.Provider = value
	case "embedding.api_key":
		ctx.Embedding.APIKey = value
	case "embedding.base_url":
		ctx.Embedding.BaseURL = value
	case "embedding.model":
		ctx.Embedding.Model = value
	case "rerank.provider":
		ctx.Rerank.Provider = value
	case "rerank.api_key":
		ctx.Rerank.APIKey = value
	case "rerank.base_url":
		ctx.Rerank.BaseURL = value
	case "rerank.model":
		ctx.Rerank.Model = value
	case "language":
		ctx.Language = value
	case "timezone":
		ctx.Timezone = value
	case "scenario":
		ctx.Scenario = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func init() {
	configCmd.AddCommand(
		configListContextsCmd,
		configAddContextCmd,
		configDeleteContextCmd,
		configUseContextCmd,
		configCurrentContextCmd,
		configSetCmd,
		configViewCmd,
	)
	rootCmd.AddCommand(configCmd)
}
