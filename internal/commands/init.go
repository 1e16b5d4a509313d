package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const starterConfig = `store:
  path: ./reports/index.db
  profile: false
cache:
  backend: memory
  max_entries: 500
  # backend: redis
  # ttl: 5m
  # redis:
  #   addr: localhost:6379
  #   prefix: "telemetry:query:"
stream:
  interval: 500ms
  pattern: "telemetry_*.json"
  seek_to_end: true
indexer:
  workers: 2
alerts:
  rules_path: ./alert_rules.yaml
metrics:
  otlp_endpoint: ""
`

const starterRules = `thresholds:
  bankruptcy:
    severity: critical
    message: "{faction} requisition fell to {value}"
    metric: requisition
    operator: less_than
    value: 0
    duration_turns: 2
  idle_construction:
    severity: warning
    message: "{faction} has {value} idle construction slots"
    metric: idle_construction_slots
    operator: greater_than
    value: 3
    duration_turns: 5
patterns:
  repeated_errors:
    severity: error
    message: "{count} identical errors: {error_message}"
    pattern: same_error_message
    event_type: error
    window_turns: 5
    threshold_count: 3
  stuck_operation:
    severity: warning
    message: "{operation} took {duration}ms"
    pattern: operation_stuck
    event_type: performance
  memory_leak:
    severity: warning
    message: "memory growing {growth_rate} MB per turn"
    pattern: memory_growth
    event_type: performance
    growth_rate_mb_per_turn: 50
notifications:
  console:
    enabled: true
    min_severity: warning
  file:
    enabled: true
    path: logs/alerts.log
    min_severity: info
  webhook:
    enabled: false
    endpoints: []
    min_severity: warning
  email:
    enabled: false
    min_severity: error
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter service configuration and alert rule document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func runInit(dir string, force bool) error {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Initializing telemetry service in %s\n", dir)

	for _, sub := range []string{"reports", "logs"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", path, err)
		}
	}

	files := []struct{ name, content string }{
		{DefaultConfigFile, starterConfig},
		{"alert_rules.yaml", starterRules},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
		if force {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		out, err := os.OpenFile(path, flags, 0o644)
		if errors.Is(err, fs.ErrExist) {
			color.Yellow("  skipped %s (exists, use --force to overwrite)", f.name)
			continue
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
		_, err = out.WriteString(f.content)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
		color.Green("  created %s", f.name)
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  telemetryd index batch <reports>/<universe>/<batch>")
	fmt.Println("  telemetryd tail <reports>/<universe>/<batch>/<run>")
	return nil
}
