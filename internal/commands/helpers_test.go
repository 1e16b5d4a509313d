package commands

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/config"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/indexer"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/notify"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/testutil"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func writeServiceConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "telemetry.yaml")
	content := "store:\n  path: " + filepath.Join(dir, "db", "index.db") + "\ncache:\n  backend: memory\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunInit_WritesLoadableFiles(t *testing.T) {
	dir := t.TempDir()
	if err := runInit(dir, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := config.Load(filepath.Join(dir, DefaultConfigFile))
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.Alerts.RulesPath != "./alert_rules.yaml" {
		t.Errorf("unexpected rules path %q", cfg.Alerts.RulesPath)
	}

	set, err := config.LoadRules(filepath.Join(dir, "alert_rules.yaml"))
	if err != nil {
		t.Fatalf("starter rules do not load: %v", err)
	}
	if len(set.Rules) != 5 {
		t.Errorf("expected 5 rules, got %d", len(set.Rules))
	}
	if len(set.Channels) != 2 {
		t.Errorf("expected console and file channels, got %d", len(set.Channels))
	}
	if _, err := os.Stat(filepath.Join(dir, "reports")); err != nil {
		t.Errorf("reports directory missing: %v", err)
	}
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	if err := os.WriteFile(path, []byte("store:\n  path: mine.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(dir, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "mine.db") {
		t.Error("existing config was overwritten")
	}

	if err := runInit(dir, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "mine.db") {
		t.Error("--force did not overwrite")
	}
}

func TestNewQueryCache(t *testing.T) {
	ctx := context.Background()

	qc, closeFn := newQueryCache(ctx, config.CacheConfig{Backend: config.CacheNone}, quietLogger())
	if qc != nil || closeFn != nil {
		t.Error("expected no cache for backend none")
	}

	qc, _ = newQueryCache(ctx, config.CacheConfig{Backend: config.CacheMemory, MaxEntries: 10}, quietLogger())
	if qc == nil || qc.Stats().Backend != "memory" {
		t.Fatalf("expected memory cache, got %+v", qc)
	}
}

func TestNewQueryCache_UnreachableRedisFallsBack(t *testing.T) {
	cfg := config.CacheConfig{Backend: config.CacheRedis}
	cfg.Redis.Addr = "127.0.0.1:1"
	qc, closeFn := newQueryCache(context.Background(), cfg, quietLogger())
	if closeFn != nil {
		t.Error("fallback cache needs no closer")
	}
	if qc == nil || qc.Stats().Backend != "memory" {
		t.Fatalf("expected memory fallback, got %+v", qc)
	}
}

func TestUniverseOf(t *testing.T) {
	got := universeOf(filepath.Join("reports", "void", "batch_7", "run_003") + string(filepath.Separator))
	if got != "void" {
		t.Errorf("expected void, got %q", got)
	}
}

func TestNewAlerting_DefaultsToConsole(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	engine, disp, err := newAlerting("", quietLogger(), notify.WithConsoleWriter(&out))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(disp.Channels()); n != 1 {
		t.Fatalf("expected 1 channel, got %d", n)
	}

	engine.Trigger(context.Background(), types.SeverityInfo, "r", "below the console floor", nil)
	engine.Trigger(context.Background(), types.SeverityCritical, "r", "reactor breach", nil)
	if strings.Contains(out.String(), "below the console floor") {
		t.Error("info alert should not reach the console")
	}
	if !strings.Contains(out.String(), "reactor breach") {
		t.Errorf("critical alert missing from console output: %q", out.String())
	}
}

func TestIndexRunsAndInspect(t *testing.T) {
	color.NoColor = true
	root := t.TempDir()
	cfgPath := writeServiceConfig(t, root)
	ctx := context.Background()

	for i, run := range []string{"run_001", "run_002"} {
		testutil.NewRunDir(t, root, "void", "batch_1", run).
			Manifest("Imperium", 2).
			Events("telemetry_001.json",
				testutil.Event(1, "economy", "income_collected", "Imperium", map[string]any{"net": 100 + i}),
			).
			Turn(2, map[string]map[string]any{"Imperium": testutil.FactionStats(500, 3+i)})
	}

	var out bytes.Buffer
	err := runIndex(ctx, &out, cfgPath, false, func(ix *indexer.Indexer) ([]indexer.Report, error) {
		return ix.IndexBatch(ctx, filepath.Join(root, "void", "batch_1"))
	})
	if err != nil {
		t.Fatalf("indexing failed: %v", err)
	}
	if !strings.Contains(out.String(), "Indexed 2 run(s)") {
		t.Errorf("unexpected index output: %q", out.String())
	}

	err = withStore(ctx, cfgPath, func(ctx context.Context, st *store.Store) error {
		var w bytes.Buffer
		if err := runGold(ctx, &w, st, []string{"void", "batch_1", "run_001"}, false); err != nil {
			return err
		}
		w.Reset()
		if err := runCompare(ctx, &w, st, []string{"void", "batch_1", "run_002"}); err != nil {
			return err
		}
		if !strings.Contains(w.String(), `"divergence"`) || !strings.Contains(w.String(), `"content_mismatch"`) {
			t.Errorf("unexpected compare output: %s", w.String())
		}

		w.Reset()
		if err := runMaintain(ctx, &w, st, maintainOpts{analyze: true, check: true}); err != nil {
			return err
		}
		if !strings.Contains(w.String(), "integrity check") {
			t.Errorf("unexpected maintain output: %q", w.String())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
