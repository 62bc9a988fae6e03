package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/retrieval"
)

var (
	retUser    string
	retGroup   string
	retTopK    int
	retDays    int
	retMode    string
	retSource  string
	retRadius  float64
	retAt      string
	retAgentic bool
	retGrouped bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Query memories",
	Long: `Answer a natural-language query over the hybrid indexes.

The default is one lightweight pass: dense and BM25 branches fused by
reciprocal rank. --agentic wraps it in the two-round sufficiency loop,
where the model judges the first answer and refines the query when it
falls short. --grouped fans the query across every group the user appears
in.

--source selects the collection (episode, event_log, foresight, profile);
--mode pins a single branch (embedding, bm25) instead of fusion.

Examples:
  evermem retrieve "what did alice promise" --user alice
  evermem retrieve "deadline for v2" --group g1 --source foresight
  evermem retrieve "how do alice and bob split the work" --agentic --jq '.memories[].episode'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if retAgentic && retGrouped {
			return fmt.Errorf("--agentic and --grouped are mutually exclusive")
		}
		req := retrieval.Request{
			Query:         args[0],
			UserID:        retUser,
			GroupID:       retGroup,
			TimeRangeDays: retDays,
			TopK:          retTopK,
			Mode:          memory.RetrievalMode(retMode),
			Source:        memory.DataSource(retSource),
			Radius:        retRadius,
		}
		if retAt != "" {
			at, err := time.Parse(time.RFC3339, retAt)
			if err != nil {
				return fmt.Errorf("parse --current-time: %w", err)
			}
			req.CurrentTime = &at
		}

		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		switch {
		case retAgentic:
			resp, err := env.svc.RetrieveAgentic(cmd.Context(), req)
			if err != nil {
				return err
			}
			return output(resp)
		case retGrouped:
			resp, err := env.svc.RetrieveGrouped(cmd.Context(), req)
			if err != nil {
				return err
			}
			return output(resp)
		default:
			resp, err := env.svc.RetrieveLightweight(cmd.Context(), req)
			if err != nil {
				return err
			}
			return output(resp)
		}
	},
}

func init() {
	f := retrieveCmd.Flags()
	f.StringVarP(&retUser, "user", "u", "", "scope to one user")
	f.StringVarP(&retGroup, "group", "g", "", "scope to one group")
	f.IntVar(&retTopK, "top-k", 0, "result cap (default 10)")
	f.IntVar(&retDays, "days", 0, "only records newer than this many days")
	f.StringVar(&retMode, "mode", "", "retrieval mode: rrf, embedding or bm25 (default rrf)")
	f.StringVar(&retSource, "source", "", "collection: episode, event_log, foresight or profile (default episode)")
	f.Float64Var(&retRadius, "radius", 0, "minimum cosine similarity for dense hits")
	f.StringVar(&retAt, "current-time", "", "RFC 3339 anchor for time filters (default now)")
	f.BoolVar(&retAgentic, "agentic", false, "use the two-round sufficiency loop")
	f.BoolVar(&retGrouped, "grouped", false, "fan out across the user's groups")
	rootCmd.AddCommand(retrieveCmd)
}
