package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	priorPath  string
	newerPath  string
	outputRoot string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "entity-audit",
	Short: "Compare two entity-resolution clustering snapshots",
	Long: `entity-audit compares two generations of an entity-resolution clustering
result ("prior" and "newer") and reports how the clustering changed.

It produces an audit trail categorizing every changed cluster
(MISSING/SPLIT/MERGE) and a statistics document with precision, recall,
and F1 at the entity, cluster, pair, and record level.

Both inputs are delimited files with a header row. The delimiter (comma,
pipe, or tab) is detected automatically, and column roles are resolved
from a recognized schema or a companion "<input>.map" descriptor.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAudit(cmd.Context(), auditOptions{
			Prior:   priorPath,
			Newer:   newerPath,
			Output:  outputRoot,
			DB:      dbPath,
			Verbose: verbose,
		})
	},
}

func init() {
	rootCmd.Flags().StringVarP(&priorPath, "prior", "p", "", "prior clustering snapshot (required)")
	rootCmd.Flags().StringVarP(&newerPath, "newer", "n", "", "newer clustering snapshot (required)")
	rootCmd.Flags().StringVarP(&outputRoot, "output", "o", "", "output root path; trail and statistics files derive from it (required)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "optionally mirror the audit trail and metrics into a SQLite database")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "report progress and debug detail on stderr")

	_ = rootCmd.MarkFlagRequired("prior")
	_ = rootCmd.MarkFlagRequired("newer")
	_ = rootCmd.MarkFlagRequired("output")
}

func main() {
	// SIGINT/SIGTERM cancel the context; the comparator notices at the next
	// prior-cluster boundary and the run finalizes as aborted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "aborted by interrupt; partial results written")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
