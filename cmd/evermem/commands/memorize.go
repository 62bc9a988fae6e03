package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
	"github.com/evermem/evermem/pkg/cortex"
)

var (
	memFile     string
	memEnqueue  bool
	memScenario string
)

var memorizeCmd = &cobra.Command{
	Use:   "memorize",
	Short: "Ingest a message batch",
	Long: `Ingest one batch of raw messages for a group.

The request file (YAML or JSON, "-" for stdin) holds the group id and the
messages:

  group_id: g1
  messages:
    - speaker_id: alice
      content: shall we ship v2 on friday?
      timestamp: 2026-08-20T14:03:00+08:00

By default the pipeline runs inline and prints the derived records; with
--enqueue the request is deferred through the partitioned queue for a
worker to pick up.

Examples:
  evermem memorize -f messages.yaml
  cat messages.json | evermem memorize -f - --enqueue`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if memFile == "" {
			return fmt.Errorf("request file is required (-f)")
		}
		var req cortex.MemorizeRequest
		if err := cli.LoadRequest(memFile, &req); err != nil {
			return err
		}
		if memScenario != "" {
			req.Scenario = memScenario
		}

		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		if memEnqueue {
			ok, reason := env.svc.EnqueueMemorize(cmd.Context(), req)
			if !ok {
				return fmt.Errorf("enqueue rejected: %s", reason)
			}
			cli.PrintSuccess("Enqueued %d message(s) for group %q.", len(req.Messages), req.GroupID)
			return nil
		}

		mems, err := env.svc.DeliverMemorize(cmd.Context(), req)
		if err != nil {
			return err
		}
		if len(mems) == 0 {
			cli.PrintInfo("Topic still open; %d message(s) buffered.", len(req.Messages))
			return nil
		}
		return output(mems)
	},
}

func init() {
	memorizeCmd.Flags().StringVarP(&memFile, "file", "f", "", "request file (YAML/JSON, '-' for stdin)")
	memorizeCmd.Flags().BoolVar(&memEnqueue, "enqueue", false, "defer through the work queue instead of running inline")
	memorizeCmd.Flags().StringVar(&memScenario, "scenario", "", "scenario label for profile versions")
	rootCmd.AddCommand(memorizeCmd)
}
