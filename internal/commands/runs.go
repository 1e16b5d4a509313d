package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// NewRunsCmd creates the runs command, which lists indexed runs and manages
// the gold-standard baseline.
func NewRunsCmd() *cobra.Command {
	var (
		cfgPath  string
		universe string
		batch    string
		goldOnly bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List indexed runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfgPath, func(ctx context.Context, st *store.Store) error {
				runs, err := st.ListRuns(ctx, store.RunFilter{Universe: universe, BatchID: batch, GoldOnly: goldOnly})
				if err != nil {
					return fmt.Errorf("listing runs: %w", err)
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", DefaultConfigFile, "path to the service configuration")
	cmd.Flags().StringVarP(&universe, "universe", "u", "", "only runs of this universe")
	cmd.Flags().StringVarP(&batch, "batch", "b", "", "only runs of this batch")
	cmd.Flags().BoolVar(&goldOnly, "gold", false, "only gold-standard runs")

	gold := &cobra.Command{
		Use:   "gold <universe> [<batch> <run>]",
		Short: "Show, set or (with --clear) clear the gold-standard run of a universe",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			clearGold, _ := cmd.Flags().GetBool("clear")
			return withStore(cmd.Context(), cfgPath, func(ctx context.Context, st *store.Store) error {
				return runGold(ctx, cmd.OutOrStdout(), st, args, clearGold)
			})
		},
	}
	gold.Flags().Bool("clear", false, "clear the gold standard")

	cmd.AddCommand(gold)
	return cmd
}

func runGold(ctx context.Context, w io.Writer, st *store.Store, args []string, clearGold bool) error {
	universe := args[0]
	switch {
	case clearGold:
		if err := st.ClearGoldStandard(ctx, universe); err != nil {
			return fmt.Errorf("clearing gold standard: %w", err)
		}
		color.Yellow("Gold standard of %s cleared", universe)
	case len(args) == 3:
		key := types.RunKey{Universe: universe, BatchID: args[1], RunID: args[2]}
		if err := st.SetGoldStandard(ctx, key); err != nil {
			return fmt.Errorf("setting gold standard: %w", err)
		}
		color.Green("Gold standard of %s is now %s/%s", universe, key.BatchID, key.RunID)
	case len(args) == 1:
		run, err := st.GoldStandard(ctx, universe)
		if errors.Is(err, store.ErrNotFound) {
			_, _ = fmt.Fprintf(w, "No gold standard for %s.\n", universe)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading gold standard: %w", err)
		}
		printRuns(w, []types.Run{run})
	default:
		return fmt.Errorf("expected <universe> or <universe> <batch> <run>")
	}
	return nil
}

func printRuns(w io.Writer, runs []types.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs indexed.")
		return
	}
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(w, "Indexed Runs:")
	for _, r := range runs {
		gold := ""
		if r.IsGoldStandard {
			gold = color.YellowString("★ gold")
		}
		winner := r.Winner
		if winner == "" {
			winner = color.CyanString("in progress")
		}
		_, _ = fmt.Fprintf(w, "  %-12s %-14s %-20s turns=%-4d winner=%-18s %s\n",
			r.Universe, r.BatchID, r.RunID, r.TurnsTaken, winner, gold)
	}
}

// withStore opens the configured services, runs fn against the store and
// closes everything afterwards.
func withStore(ctx context.Context, cfgPath string, fn func(context.Context, *store.Store) error) error {
	svc, err := openServices(ctx, cfgPath, newLogger(os.Stderr, false))
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	return fn(ctx, svc.store)
}
