package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/local/splitmerge/internal/plan"
	"github.com/local/splitmerge/internal/preview"
	"github.com/local/splitmerge/internal/store"
)

var (
	commitMetadata     string
	commitDeleteSource bool
	commitSplits       []string
	commitWait         bool
)

var commitCmd = &cobra.Command{
	Use:   "commit [entries...]",
	Short: "Create the output documents",
	Long: `Submit the entries for real. The server queues a commit job and returns
one result id per output document; any of them identifies the job. --wait
polls the job until it finishes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommit,
}

var statusCmd = &cobra.Command{
	Use:   "status [job-or-result-id]",
	Short: "Show the status of a commit job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().JobStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus(cmd, args[0], st)
		return nil
	},
}

func init() {
	commitCmd.Flags().StringVar(&commitMetadata, "metadata", string(plan.MetadataRedo), "Metadata policy: redo or copy_first")
	commitCmd.Flags().BoolVar(&commitDeleteSource, "delete-source", false, "Delete source documents once outputs are published")
	commitCmd.Flags().StringArrayVar(&commitSplits, "split", nil, "Split entry INDEX so that PAGES start a new document")
	commitCmd.Flags().BoolVarP(&commitWait, "wait", "w", false, "Wait for the commit job to finish")
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(statusCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	ws, err := parseEntries(args)
	if err != nil {
		return err
	}
	if err := applySplits(ws, commitSplits); err != nil {
		return err
	}
	c := newClient()
	ctl := preview.New(ws, c, preview.Options{Metadata: plan.Metadata(commitMetadata)})
	defer ctl.Close()

	ids, err := ctl.Commit(cmd.Context(), commitDeleteSource)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("server returned no results")
	}
	if !commitWait {
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string][]string{"results": ids})
		}
		printf(cmd.OutOrStdout(), "queued %d documents\n", len(ids))
		for i, id := range ids {
			printf(cmd.OutOrStdout(), "  %d: %s\n", i+1, id)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	st, err := waitForJob(ctx, ids[0], 500*time.Millisecond)
	if err != nil {
		return err
	}
	printStatus(cmd, ids[0], st)
	if st.Status == store.StateFailed {
		return fmt.Errorf("commit job %s failed: %s", jobName(ids[0], st), st.Message)
	}
	return nil
}

// waitForJob polls the job identified by id (a job id or one of its result
// ids) until it succeeds or fails.
func waitForJob(ctx context.Context, id string, every time.Duration) (store.Status, error) {
	c := newClient()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st, err := c.JobStatus(ctx, id)
		if err == nil && (st.Status == store.StateSuccess || st.Status == store.StateFailed) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func jobName(id string, st store.Status) string {
	if st.JobID != "" {
		return st.JobID
	}
	return id
}

func printStatus(cmd *cobra.Command, id string, st store.Status) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		_ = printJSON(out, st)
		return
	}
	state := st.Status
	switch st.Status {
	case store.StateSuccess:
		state = okColor.Sprint(state)
	case store.StateFailed:
		state = failColor.Sprint(state)
	}
	printf(out, "Job: %s\nStatus: %s\nAttempt: %d\n", jobName(id, st), state, st.Attempt)
	if st.Message != "" {
		printf(out, "Message: %s\n", st.Message)
	}
	for _, o := range st.Outputs {
		printf(out, "  %s\n", o)
	}
}
