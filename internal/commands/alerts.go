package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/config"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// NewAlertsCmd creates the alerts command.
func NewAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and exercise alert configuration",
	}

	check := &cobra.Command{
		Use:   "check <rules.yaml>",
		Short: "Validate a rule document and list its rules and channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := config.LoadRules(args[0])
			if err != nil {
				return err
			}
			printRuleSet(cmd.OutOrStdout(), set)
			return nil
		},
	}

	var severity string
	test := &cobra.Command{
		Use:   "test <rules.yaml> <message>",
		Short: "Send a test alert through the configured channels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := types.ParseSeverity(severity)
			if err != nil {
				return err
			}
			engine, _, err := newAlerting(args[0], newLogger(os.Stderr, false))
			if err != nil {
				return err
			}
			a, ok := engine.Trigger(context.Background(), sev, "manual_test", args[1], map[string]any{"source": "cli"})
			if !ok {
				color.Yellow("Alert suppressed as a duplicate")
				return nil
			}
			color.Green("Sent alert %s", a.ID)
			return nil
		},
	}
	test.Flags().StringVarP(&severity, "severity", "s", "warning", "alert severity")

	cmd.AddCommand(check, test)
	return cmd
}

func printRuleSet(w io.Writer, set types.RuleSet) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Rules (%d):\n", len(set.Rules))
	for _, r := range set.Rules {
		switch r := r.(type) {
		case types.ThresholdRule:
			_, _ = fmt.Fprintf(w, "  %-28s %-9s threshold %s %s %g for %d turn(s)\n",
				r.Name, r.Severity, r.Metric, r.Operator, r.Value, r.DurationTurns)
		case types.PatternRule:
			_, _ = fmt.Fprintf(w, "  %-28s %-9s pattern   %s on %q within %d turn(s)\n",
				r.Name, r.Severity, r.Kind, r.EventType, r.WindowTurns)
		}
	}
	_, _ = bold.Fprintf(w, "Channels (%d):\n", len(set.Channels))
	for _, c := range set.Channels {
		_, _ = fmt.Fprintf(w, "  %-10s min=%s\n", c.Type, c.MinSeverity)
	}
}
