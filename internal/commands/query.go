package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/replay"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// queryFlags are the filter flags shared by the query subcommands.
type queryFlags struct {
	filter store.Filter
	page   types.PageRequest
}

func (q *queryFlags) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&q.filter.Universe, "universe", "u", "", "universe")
	f.StringVarP(&q.filter.BatchID, "batch", "b", "", "batch id")
	f.StringVarP(&q.filter.RunID, "run", "r", "", "run id")
	f.StringVar(&q.filter.Category, "category", "", "category (case-insensitive)")
	f.StringVar(&q.filter.EventType, "event-type", "", "event type")
	f.StringSliceVar(&q.filter.Factions, "faction", nil, "faction, repeatable")
	f.IntVar(&q.filter.TurnFrom, "from", 0, "first turn")
	f.IntVar(&q.filter.TurnTo, "to", 0, "last turn")
	f.IntVar(&q.page.Page, "page", 1, "page number")
	f.IntVar(&q.page.PageSize, "page-size", types.DefaultPageSize, "rows per page")
}

// NewQueryCmd creates the query command. Results are printed as JSON; a
// failing paginated query prints an empty page and logs the error.
func NewQueryCmd() *cobra.Command {
	var (
		cfgPath string
		q       queryFlags
		metrics []string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query indexed telemetry",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", DefaultConfigFile, "path to the service configuration")
	q.bind(cmd)

	// page runs a paginated query, degrading to an empty page on error.
	page := func(use, short string, args cobra.PositionalArgs, run func(context.Context, *store.Store, []string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), cfgPath, func(ctx context.Context, st *store.Store) error {
					out, err := run(ctx, st, args)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), out)
				})
			},
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cmd.AddCommand(
		page("events", "Page through events", cobra.NoArgs, func(ctx context.Context, st *store.Store, _ []string) (any, error) {
			p, err := st.QueryEvents(ctx, q.filter, q.page.Normalize())
			return store.EmptyOnError(logger, p, err), nil
		}),
		page("search <text>", "Full-text keyword search over events", cobra.MinimumNArgs(1), func(ctx context.Context, st *store.Store, args []string) (any, error) {
			p, err := st.SearchEvents(ctx, strings.Join(args, " "), q.filter, q.page.Normalize())
			return store.EmptyOnError(logger, p, err), nil
		}),
		page("transactions", "Page through resource transactions", cobra.NoArgs, func(ctx context.Context, st *store.Store, _ []string) (any, error) {
			p, err := st.QueryResourceTransactions(ctx, q.filter, q.page.Normalize())
			return store.EmptyOnError(logger, p, err), nil
		}),
		page("battles", "Page through battle performance rows", cobra.NoArgs, func(ctx context.Context, st *store.Store, _ []string) (any, error) {
			p, err := st.QueryBattlePerformance(ctx, q.filter, q.page.Normalize())
			return store.EmptyOnError(logger, p, err), nil
		}),
		page("revenue", "Sum positive resource transactions by category", cobra.NoArgs, func(ctx context.Context, st *store.Store, _ []string) (any, error) {
			return st.RevenueBreakdown(ctx, q.filter)
		}),
		page("galaxy <turn>", "All faction snapshots of a run at a turn (0 for the latest)", cobra.ExactArgs(1), func(ctx context.Context, st *store.Store, args []string) (any, error) {
			var turn int
			if _, err := fmt.Sscan(args[0], &turn); err != nil {
				return nil, fmt.Errorf("invalid turn %q", args[0])
			}
			key := types.RunKey{Universe: q.filter.Universe, BatchID: q.filter.BatchID, RunID: q.filter.RunID}
			return st.GalaxySnapshot(ctx, key, turn)
		}),
	)

	series := page("series", "Faction metrics per turn", cobra.NoArgs, func(ctx context.Context, st *store.Store, _ []string) (any, error) {
		if len(q.filter.Factions) != 1 {
			return nil, fmt.Errorf("series needs exactly one --faction")
		}
		return st.FactionTimeSeries(ctx, store.SeriesQuery{
			Universe: q.filter.Universe,
			Faction:  q.filter.Factions[0],
			Metrics:  metrics,
			BatchID:  q.filter.BatchID,
			RunID:    q.filter.RunID,
		})
	})
	series.Flags().StringSliceVar(&metrics, "metric", []string{"requisition"}, "snapshot metric, repeatable")
	cmd.AddCommand(series)

	return cmd
}

// NewCompareCmd creates the compare command.
func NewCompareCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "compare <universe> <batch> <run> [<baseline-run>]",
		Short: "Compare a run against a baseline (default: the gold standard)",
		Long: `Prints the per-category comparison of run against the baseline together
with the replay analysis: the first event where the two runs diverge and the
drift of each faction's final state.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfgPath, func(ctx context.Context, st *store.Store) error {
				return runCompare(ctx, cmd.OutOrStdout(), st, args)
			})
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func runCompare(ctx context.Context, w io.Writer, st *store.Store, args []string) error {
	current := types.RunKey{Universe: args[0], BatchID: args[1], RunID: args[2]}
	var baseline types.RunKey
	if len(args) == 4 {
		baseline = types.RunKey{Universe: args[0], BatchID: args[1], RunID: args[3]}
	} else {
		gold, err := st.GoldStandard(ctx, current.Universe)
		if err != nil {
			return fmt.Errorf("no baseline given and no gold standard for %s: %w", current.Universe, err)
		}
		baseline = gold.Key()
	}

	cmp, err := st.CompareRuns(ctx, current, baseline)
	if err != nil {
		return fmt.Errorf("comparing runs: %w", err)
	}
	rep, err := replay.Compare(ctx, st, current.Universe, baseline.RunID, current.RunID)
	if err != nil {
		return fmt.Errorf("replaying runs: %w", err)
	}
	return printJSON(w, map[string]any{"comparison": cmp, "replay": rep})
}
