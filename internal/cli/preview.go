package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/local/splitmerge/internal/plan"
	"github.com/local/splitmerge/internal/preview"
)

var (
	previewOut      string
	previewMetadata string
	previewSplits   []string
)

var previewCmd = &cobra.Command{
	Use:   "preview [entries...]",
	Short: "Build preview documents on the server",
	Long:  `Build one preview PDF per output document and print where the server serves them.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().StringVarP(&previewOut, "out", "o", "", "Download previews into this directory")
	previewCmd.Flags().StringVar(&previewMetadata, "metadata", string(plan.MetadataRedo), "Metadata policy: redo or copy_first")
	previewCmd.Flags().StringArrayVar(&previewSplits, "split", nil, "Split entry INDEX so that PAGES start a new document")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	ws, err := parseEntries(args)
	if err != nil {
		return err
	}
	if err := applySplits(ws, previewSplits); err != nil {
		return err
	}

	c := newClient()
	updates := make(chan preview.State, 1)
	ctl := preview.New(ws, c, preview.Options{
		Metadata: plan.Metadata(previewMetadata),
		URL:      c.PreviewURL,
		Timeout:  timeout,
		OnUpdate: func(st preview.State) {
			select {
			case updates <- st:
			default:
			}
		},
	})
	defer ctl.Close()

	ctl.Retry()
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	var st preview.State
	select {
	case st = <-updates:
	case <-ctx.Done():
		return fmt.Errorf("preview: %w", ctx.Err())
	}
	if st.Err != nil {
		return st.Err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{"results": st.Results, "urls": st.URLs})
	}
	for i, id := range st.Results {
		printf(out, "%s %d  %s\n", okColor.Sprint("document"), i+1, st.URLs[i])
		if previewOut == "" {
			continue
		}
		path, err := download(ctx, id, i)
		if err != nil {
			return err
		}
		printf(out, "  %s\n", dimColor.Sprint(path))
	}
	return nil
}

func download(ctx context.Context, id string, i int) (string, error) {
	if err := os.MkdirAll(previewOut, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(previewOut, fmt.Sprintf("%02d_%s.pdf", i+1, id))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := newClient().Download(ctx, id, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, f.Close()
}
