// Package main is the entry point for the evermem CLI.
//
// Usage:
//
//	evermem [flags] <command> [subcommand] [args]
//
// Commands:
//
//	config     - Configuration management (contexts)
//	memorize   - Ingest a message batch, inline or through the queue
//	extract    - Run single extraction stages without persisting
//	retrieve   - Query memories (lightweight, agentic or grouped)
//	fetch      - Read stored records directly
//	foresight  - Store forward-looking notes
//	queue      - Queue administration (stats, monitor, cleanup)
//	worker     - Run a queue consumer
//	snapshot   - Archive a group's profile snapshot
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/evermem/evermem/cmd/evermem/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
