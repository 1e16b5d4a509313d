package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/alert"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/indexer"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/stream"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// NewTailCmd creates the tail command.
func NewTailCmd() *cobra.Command {
	var (
		cfgPath  string
		universe string
		fromZero bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "tail <run-dir>...",
		Short: "Follow live runs, indexing new telemetry and raising alerts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), cfgPath, universe, fromZero, verbose, args)
		},
	}
	addConfigFlag(cmd, &cfgPath)
	cmd.Flags().StringVarP(&universe, "universe", "u", "", "universe name (default: inferred from each path)")
	cmd.Flags().BoolVar(&fromZero, "from-start", false, "read existing telemetry instead of seeking to the end")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runTail(ctx context.Context, cfgPath, universe string, fromZero, verbose bool, dirs []string) error {
	base := newLogger(os.Stderr, verbose)
	svc, err := openServices(ctx, cfgPath, base)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	engine, _, err := newAlerting(svc.cfg.Alerts.RulesPath, base)
	if err != nil {
		return err
	}
	// Error records logged by the pipeline become log_error events.
	logger := slog.New(alert.NewLogHandler(base.Handler(), engine, slog.LevelError))
	slog.SetDefault(logger)

	ix := indexer.New(svc.store, indexer.WithLogger(logger))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamers := make([]*stream.Streamer, 0, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		u := universe
		if u == "" {
			u = universeOf(dir)
		}
		s := stream.New(stream.Config{
			Dir:       dir,
			Key:       indexer.RunKeyFor(dir, u),
			Pattern:   svc.cfg.Stream.Pattern,
			Interval:  svc.cfg.Stream.Interval,
			SeekToEnd: svc.cfg.Stream.SeekToEnd && !fromZero,
		}, ix, engine, logger)
		streamers = append(streamers, s)
		g.Go(func() error {
			s.Run(gctx)
			return nil
		})
	}

	color.Green("Tailing %d run(s), press Ctrl+C to stop", len(dirs))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("tailing: %w", err)
	}

	var lines, alerts int64
	for _, s := range streamers {
		lines += s.Lines()
		alerts += s.Alerts()
	}
	color.Yellow("\nStopped after %d line(s), %d alert(s)", lines, alerts)
	printAlertSummary(engine.Query(alert.HistoryFilter{Unresolved: true}))
	return nil
}

func printAlertSummary(active []types.Alert) {
	if len(active) == 0 {
		return
	}
	bold := color.New(color.Bold)
	_, _ = bold.Println("Unresolved alerts:")
	for _, a := range active {
		sev := a.Severity.String()
		switch a.Severity {
		case types.SeverityCritical, types.SeverityError:
			sev = color.RedString(sev)
		case types.SeverityWarning:
			sev = color.YellowString(sev)
		default:
			sev = color.CyanString(sev)
		}
		fmt.Printf("  %s  %-10s %-24s %s\n", a.Timestamp.Format("15:04:05"), sev, a.RuleName, a.Message)
	}
}
