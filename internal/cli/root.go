// Package cli implements the splitmerge command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/local/splitmerge/internal/client"
	"github.com/local/splitmerge/internal/logger"
)

var (
	// Global flags
	serverURL  string
	jsonOutput bool
	verbose    bool
	timeout    time.Duration

	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// rootCmd is the root command for splitmerge.
var rootCmd = &cobra.Command{
	Use:     "splitmerge",
	Version: "dev",
	Short:   "Split and merge PDF documents on a splitmerge server",
	Long: `splitmerge assembles new PDF documents from pages of existing ones.

Entries are given as arguments: a document id, optionally followed by a page
range ("12:1-3,7"), with "/" starting the next output document.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		return logger.Init(logger.Options{Level: level, Pretty: true, Console: cmd.ErrOrStderr()})
	},
}

func init() {
	def := os.Getenv("SPLITMERGE_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", def, "Server base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newClient builds a client from the global flags.
var newClient = func() *client.Client {
	return client.New(serverURL, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
