package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/indexer"
)

// NewIndexCmd creates the index command and its run and batch subcommands.
func NewIndexCmd() *cobra.Command {
	var (
		cfgPath  string
		universe string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index historical simulation reports",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", DefaultConfigFile, "path to the service configuration")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	run := &cobra.Command{
		Use:   "run <run-dir>",
		Short: "Index one run directory, adding only turns not indexed yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := universe
			if u == "" {
				u = universeOf(args[0])
			}
			return runIndex(cmd.Context(), cmd.OutOrStdout(), cfgPath, verbose, func(ix *indexer.Indexer) ([]indexer.Report, error) {
				rep, err := ix.IndexRun(cmd.Context(), args[0], u)
				if err != nil {
					return nil, err
				}
				return []indexer.Report{rep}, nil
			})
		},
	}
	run.Flags().StringVarP(&universe, "universe", "u", "", "universe name (default: inferred from the path)")

	batch := &cobra.Command{
		Use:   "batch <batch-dir>",
		Short: "Index every run_* directory of a batch in parallel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd.OutOrStdout(), cfgPath, verbose, func(ix *indexer.Indexer) ([]indexer.Report, error) {
				return ix.IndexBatch(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(run, batch)
	return cmd
}

func runIndex(ctx context.Context, out io.Writer, cfgPath string, verbose bool, crawl func(*indexer.Indexer) ([]indexer.Report, error)) error {
	logger := newLogger(os.Stderr, verbose)
	svc, err := openServices(ctx, cfgPath, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	ix := indexer.New(svc.store,
		indexer.WithLogger(logger),
		indexer.WithWorkers(svc.cfg.Indexer.Workers),
		indexer.WithChunkSize(svc.cfg.Indexer.ChunkSize),
	)
	reports, err := crawl(ix)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	printReports(out, reports)
	return nil
}

func printReports(w io.Writer, reports []indexer.Report) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Indexed %d run(s):\n", len(reports))
	for _, r := range reports {
		status := color.GreenString("OK")
		if len(r.Problems) > 0 {
			status = color.YellowString("%d PROBLEM(S)", len(r.Problems))
		}
		pass := "incremental"
		if r.FirstPass {
			pass = "first pass"
		}
		_, _ = fmt.Fprintf(w, "  %-20s %-14s events=%-6d turns=%-4d battles=%-4d %s\n",
			r.Run.RunID, pass, r.EventsIndexed, len(r.TurnsIndexed), r.BattlesIndexed, status)
	}
}
