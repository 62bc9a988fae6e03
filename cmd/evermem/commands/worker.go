package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a queue consumer",
	Long: `Consume queued memorize requests until interrupted.

The worker registers as a partition owner, splits the 50 partitions with
its peers and runs the full ingestion pipeline per message. On SIGINT or
SIGTERM it hands its partitions back and exits cleanly. Run as many
workers as the backlog needs; partition ownership keeps each group's
messages on a single worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cli.PrintInfo("Worker started (data: %s, redis: %s). Ctrl-C to stop.",
			env.dir, env.cfg.Redis.Addr)
		return env.svc.Worker(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
