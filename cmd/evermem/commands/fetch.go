package commands

import (
	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cortex"
	"github.com/evermem/evermem/pkg/memory"
)

var (
	fetchType  string
	fetchUser  string
	fetchGroup string
	fetchMinV  int64
	fetchMaxV  int64
	fetchLimit int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Read stored records directly",
	Long: `Read stored memories by type, no search involved.

Episodes and foresights are read by user, profiles by version, recent
memcells and event logs by group. A user_profile fetch without --group and
without version bounds returns the merged cross-group view.

Examples:
  evermem fetch -t episode -u alice
  evermem fetch -t user_profile -u alice -g g1 --min-version 3
  evermem fetch -t memcell -g g1 --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := memory.ParseKind(fetchType)
		if err != nil {
			return err
		}

		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		resp, err := env.svc.FetchMem(cmd.Context(), cortex.FetchRequest{
			Kind:       kind,
			UserID:     fetchUser,
			GroupID:    fetchGroup,
			MinVersion: fetchMinV,
			MaxVersion: fetchMaxV,
			Limit:      fetchLimit,
		})
		if err != nil {
			return err
		}
		return output(resp)
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVarP(&fetchType, "type", "t", "episode", "memory type to read")
	f.StringVarP(&fetchUser, "user", "u", "", "user id")
	f.StringVarP(&fetchGroup, "group", "g", "", "group id")
	f.Int64Var(&fetchMinV, "min-version", 0, "lowest profile version, inclusive")
	f.Int64Var(&fetchMaxV, "max-version", 0, "highest profile version, inclusive")
	f.IntVar(&fetchLimit, "limit", 0, "result cap (default 10)")
	rootCmd.AddCommand(fetchCmd)
}
