package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
	"github.com/evermem/evermem/pkg/memory"
)

var foresightFile string

var foresightCmd = &cobra.Command{
	Use:   "foresight",
	Short: "Store a forward-looking note",
	Long: `Store a forward-looking note (a plan, a deadline, an expected
event) and index it for retrieval. The request file:

  user_id: alice
  group_id: g1
  content: v2 ships on friday
  start_time: 2026-08-24T00:00:00+08:00
  end_time: 2026-08-28T23:59:59+08:00

Retrieval serves the note while the query's current time falls inside the
validity window; a note without a window is always valid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if foresightFile == "" {
			return fmt.Errorf("request file is required (-f)")
		}
		var f memory.Foresight
		if err := cli.LoadRequest(foresightFile, &f); err != nil {
			return err
		}

		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.svc.PutForesight(cmd.Context(), &f); err != nil {
			return err
		}
		cli.PrintSuccess("Stored foresight %s.", f.EventID)
		return nil
	},
}

func init() {
	foresightCmd.Flags().StringVarP(&foresightFile, "file", "f", "", "request file (YAML/JSON, '-' for stdin)")
	rootCmd.AddCommand(foresightCmd)
}
