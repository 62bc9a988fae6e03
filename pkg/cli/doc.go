// Package cli carries the shared plumbing of the evermem command-line
// tool:
//
//   - configuration contexts (kubectl style, stored in ~/.evermem)
//   - result rendering (YAML, JSON, raw, optional jq filtering)
//   - request file loading (YAML/JSON, stdin)
//   - a lipgloss frame for the live queue monitor
//
// Example:
//
//	cfg, err := cli.LoadConfig()
//	ctx, err := cfg.GetCurrentContext()
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Filter: ".memories[].summary",
//	})
package cli
