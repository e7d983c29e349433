package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/entitykit/entity-audit/internal/audit"
	"github.com/entitykit/entity-audit/internal/index"
	"github.com/entitykit/entity-audit/internal/report"
	"github.com/entitykit/entity-audit/internal/stats"
	"github.com/entitykit/entity-audit/internal/storage/sqlite"
	"github.com/entitykit/entity-audit/internal/types"
)

type auditOptions struct {
	Prior   string
	Newer   string
	Output  string
	DB      string
	Verbose bool
}

// runAudit is the whole batch run: build both indices, compare, finalize,
// write outputs. All validation happens before the first output file is
// created. On cancellation the outputs are still written, marked aborted,
// and context.Canceled is returned so main can exit with a distinct code.
func runAudit(ctx context.Context, opts auditOptions) error {
	for _, p := range []string{opts.Prior, opts.Newer} {
		if _, err := os.Stat(p); err != nil {
			return types.Configf(p, "input file not found")
		}
	}

	prior, newer, err := index.BuildPair(ctx, opts.Prior, opts.Newer, nil, nil)
	if err != nil {
		return err
	}
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "prior index: %d clusters, %d records, %d relationships\n",
			prior.ClusterCount(), prior.RecordCount(), len(prior.Relationships))
		fmt.Fprintf(os.Stderr, "newer index: %d clusters, %d records, %d relationships\n",
			newer.ClusterCount(), newer.RecordCount(), len(newer.Relationships))
	}

	pack := stats.New(opts.Prior, opts.Newer)

	trail, err := report.NewTrailWriter(opts.Output + report.TrailExt)
	if err != nil {
		return err
	}

	sinks := []audit.RowSink{trail}
	var store *sqlite.Store
	if opts.DB != "" {
		store, err = sqlite.Open(opts.DB)
		if err != nil {
			trail.Close()
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	cmp := audit.New(prior, newer, pack, audit.MultiSink(sinks...), opts.Verbose)
	runErr := cmp.Run(ctx)

	status := stats.StatusCompleted
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) {
			trail.Close()
			return runErr
		}
		status = stats.StatusAborted
	}

	if err := trail.Close(); err != nil {
		return fmt.Errorf("closing audit trail: %w", err)
	}

	pack.Finalize(status)
	if err := report.WriteStats(opts.Output+report.StatsExt, pack); err != nil {
		return err
	}
	if store != nil {
		if err := store.WriteMetrics(pack); err != nil {
			return err
		}
	}

	printSummary(pack)
	return runErr
}

// printSummary renders the finalized metrics as a small table on stdout.
func printSummary(pack *stats.StatPack) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Cluster Audit Summary ==="))
	if pack.Status == stats.StatusAborted {
		fmt.Printf("  %s\n\n", red("Run aborted; metrics cover processed clusters only"))
	}

	fmt.Printf("  %-10s %12s %12s %12s %10s %10s %10s\n",
		"", "prior", "newer", "common", "precision", "recall", "f1")
	printMetrics := func(name string, prior, newer, common int, p, r, f float64) {
		fmt.Printf("  %-10s %12d %12d %12d %10.5f %10.5f %10.5f\n",
			yellow(name), prior, newer, common, p, r, f)
	}
	printMetrics("entity", pack.Entity.PriorCount, pack.Entity.NewerCount, pack.Entity.CommonCount,
		pack.Entity.Precision, pack.Entity.Recall, pack.Entity.F1)
	printMetrics("clusters", pack.Clusters.PriorCount, pack.Clusters.NewerCount, pack.Clusters.CommonCount,
		pack.Clusters.Precision, pack.Clusters.Recall, pack.Clusters.F1)
	printMetrics("pairs", pack.Pairs.PriorCount, pack.Pairs.NewerCount, pack.Pairs.CommonCount,
		pack.Pairs.Precision, pack.Pairs.Recall, pack.Pairs.F1)
	printMetrics("records", pack.Records.PriorCount, pack.Records.NewerCount, pack.Records.CommonCount,
		pack.Records.Precision, pack.Records.Recall, pack.Records.F1)

	if pack.MissingRecordCount > 0 {
		fmt.Printf("\n  %d prior records missing from the newer snapshot\n", pack.MissingRecordCount)
	}
	fmt.Println()
}
