package cli

import (
	"github.com/spf13/cobra"

	"github.com/local/splitmerge/internal/plan"
)

var splitFlags []string

var planCmd = &cobra.Command{
	Use:   "plan [entries...]",
	Short: "Print the request a set of entries would send",
	Long: `Build the split/merge request for the given entries without contacting
the server. Use --split INDEX=PAGES to cut an entry in two.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := parseEntries(args)
		if err != nil {
			return err
		}
		if err := applySplits(ws, splitFlags); err != nil {
			return err
		}
		req := plan.NewRequest(ws, plan.Metadata(metadataFlag), deleteSourceFlag, !commitFlag)
		if err := req.Validate(); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), req)
	},
}

var (
	metadataFlag     string
	deleteSourceFlag bool
	commitFlag       bool
)

func init() {
	planCmd.Flags().StringArrayVar(&splitFlags, "split", nil, "Split entry INDEX so that PAGES start a new document")
	planCmd.Flags().StringVar(&metadataFlag, "metadata", string(plan.MetadataRedo), "Metadata policy: redo or copy_first")
	planCmd.Flags().BoolVar(&deleteSourceFlag, "delete-source", false, "Delete source documents after commit")
	planCmd.Flags().BoolVar(&commitFlag, "commit", false, "Build a commit request instead of a preview")
	rootCmd.AddCommand(planCmd)
}
