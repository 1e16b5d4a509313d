package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "telemetryd",
		Short: "Telemetry indexing, tailing and alerting for simulation campaigns",
		Long: `telemetryd indexes simulation report trees into a SQLite database, tails
running campaigns as they write telemetry, evaluates alert rules against every
event and dispatches the resulting alerts to console, file, webhook, email and
SQS channels.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewIndexCmd(),
		commands.NewTailCmd(),
		commands.NewRunsCmd(),
		commands.NewQueryCmd(),
		commands.NewCompareCmd(),
		commands.NewMaintainCmd(),
		commands.NewAlertsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
