package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
)

type maintainOpts struct {
	vacuum  bool
	analyze bool
	rebuild bool
	check   bool
}

// NewMaintainCmd creates the maintain command.
func NewMaintainCmd() *cobra.Command {
	var (
		cfgPath string
		opts    maintainOpts
	)

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run database maintenance (integrity check by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.vacuum && !opts.analyze && !opts.rebuild {
				opts.check = true
			}
			return withStore(cmd.Context(), cfgPath, func(ctx context.Context, st *store.Store) error {
				return runMaintain(ctx, cmd.OutOrStdout(), st, opts)
			})
		},
	}
	addConfigFlag(cmd, &cfgPath)
	cmd.Flags().BoolVar(&opts.vacuum, "vacuum", false, "reclaim free pages")
	cmd.Flags().BoolVar(&opts.analyze, "analyze", false, "refresh planner statistics")
	cmd.Flags().BoolVar(&opts.rebuild, "rebuild-fts", false, "rebuild the full-text index")
	cmd.Flags().BoolVar(&opts.check, "check", false, "run an integrity check")
	return cmd
}

func runMaintain(ctx context.Context, w io.Writer, st *store.Store, opts maintainOpts) error {
	steps := []struct {
		on   bool
		name string
		fn   func(context.Context) error
	}{
		{opts.rebuild, "rebuild full-text index", st.RebuildFullText},
		{opts.analyze, "analyze", st.Analyze},
		{opts.vacuum, "vacuum", st.Vacuum},
	}
	for _, s := range steps {
		if !s.on {
			continue
		}
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		_, _ = fmt.Fprintf(w, "%s %s (%s)\n", color.GreenString("✓"), s.name, time.Since(start).Round(time.Millisecond))
	}

	if !opts.check {
		return nil
	}
	problems, err := st.IntegrityCheck(ctx)
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if len(problems) == 1 && problems[0] == "ok" {
		_, _ = fmt.Fprintf(w, "%s integrity check\n", color.GreenString("✓"))
		return nil
	}
	for _, p := range problems {
		_, _ = fmt.Fprintf(w, "%s %s\n", color.RedString("✗"), p)
	}
	return fmt.Errorf("integrity check reported %d problem(s)", len(problems))
}
