package commands

import (
	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <group>",
	Short: "Archive a group's profile snapshot",
	Long: `Write the group's current state (latest group profile, the members'
latest user profiles and importance windows) to the file store and print
the archive URI.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		uri, err := env.svc.SnapshotProfiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cli.PrintSuccess("Snapshot written: %s", uri)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
