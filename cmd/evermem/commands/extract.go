package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
	"github.com/evermem/evermem/pkg/memory"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run single extraction stages without persisting",
	Long: `Run one extraction stage on its own and print the result, nothing
is written. Useful for prompt tuning and debugging the pipeline.`,
}

var (
	extractFile string
	extractType string
	extractUser string
)

// memcellRequest is the extract-memcell request file.
type memcellRequest struct {
	GroupID string              `json:"group_id" yaml:"group_id"`
	History []memory.RawMessage `json:"history,omitempty" yaml:"history,omitempty"`
	Fresh   []memory.RawMessage `json:"fresh" yaml:"fresh"`
}

var extractMemcellCmd = &cobra.Command{
	Use:   "memcell",
	Short: "Judge whether fresh messages close the buffered topic",
	Long: `Run boundary detection over a buffered history plus fresh messages.
The request file holds both:

  group_id: g1
  history:
    - speaker_id: alice
      content: morning!
  fresh:
    - speaker_id: bob
      content: btw, the demo moved to monday

Prints the closed cell when the boundary fires, and the boundary verdict
either way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractFile == "" {
			return fmt.Errorf("request file is required (-f)")
		}
		var req memcellRequest
		if err := cli.LoadRequest(extractFile, &req); err != nil {
			return err
		}
		if req.GroupID == "" {
			return fmt.Errorf("request missing group_id")
		}

		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		cell, verdict, err := env.svc.ExtractMemCell(cmd.Context(), req.GroupID, req.History, req.Fresh)
		if err != nil {
			return err
		}
		return output(map[string]any{
			"memcell":  cell,
			"boundary": verdict,
		})
	},
}

// memoryRequest is the extract-memory request file.
type memoryRequest struct {
	Cells []*memory.MemCell `json:"cells" yaml:"cells"`
}

var extractMemoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Run one memory extractor over closed cells",
	Long: `Run the extractor for one memory type over already-closed cells.
The request file holds the cells; --type selects the extractor:

  episode, event_log, user_profile, group_profile

User-scoped extraction (episode, user_profile) takes the subject from
--user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractFile == "" {
			return fmt.Errorf("request file is required (-f)")
		}
		kind, err := memory.ParseKind(extractType)
		if err != nil {
			return err
		}
		var req memoryRequest
		if err := cli.LoadRequest(extractFile, &req); err != nil {
			return err
		}
		if len(req.Cells) == 0 {
			return fmt.Errorf("request has no cells")
		}

		env, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		mems, err := env.svc.ExtractMemory(cmd.Context(), kind, req.Cells, extractUser)
		if err != nil {
			return err
		}
		return output(mems)
	},
}

func init() {
	extractCmd.PersistentFlags().StringVarP(&extractFile, "file", "f", "", "request file (YAML/JSON, '-' for stdin)")
	extractMemoryCmd.Flags().StringVarP(&extractType, "type", "t", "episode", "memory type to extract")
	extractMemoryCmd.Flags().StringVarP(&extractUser, "user", "u", "", "subject user id")
	extractCmd.AddCommand(extractMemcellCmd, extractMemoryCmd)
	rootCmd.AddCommand(extractCmd)
}
