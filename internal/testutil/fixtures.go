// Package testutil provides shared test helpers: polling assertions and
// builders for on-disk simulation report trees.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// RunDir builds a run directory laid out as <root>/<universe>/<batch>/<run>.
type RunDir struct {
	t    *testing.T
	Path string
}

// NewRunDir creates an empty run directory below root.
func NewRunDir(t *testing.T, root, universe, batch, run string) *RunDir {
	t.Helper()
	p := filepath.Join(root, universe, batch, run)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatalf("creating run dir: %v", err)
	}
	return &RunDir{t: t, Path: p}
}

// WriteJSON marshals v into rel below the run directory.
func (r *RunDir) WriteJSON(rel string, v any) *RunDir {
	r.t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		r.t.Fatalf("marshalling %s: %v", rel, err)
	}
	return r.WriteFile(rel, string(raw))
}

// WriteFile writes content into rel below the run directory.
func (r *RunDir) WriteFile(rel, content string) *RunDir {
	r.t.Helper()
	p := filepath.Join(r.Path, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		r.t.Fatalf("creating %s: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		r.t.Fatalf("writing %s: %v", rel, err)
	}
	return r
}

// Manifest writes manifest.json.
func (r *RunDir) Manifest(winner string, turns int) *RunDir {
	return r.WriteJSON("manifest.json", map[string]any{
		"started_at":  "2026-01-01T00:00:00Z",
		"finished_at": "2026-01-01T01:00:00Z",
		"summary":     map[string]any{"winner": winner, "turns_taken": turns},
		"metadata":    map[string]any{"seed": 42},
	})
}

// Events writes events as newline-delimited JSON into name.
func (r *RunDir) Events(name string, events ...map[string]any) *RunDir {
	r.t.Helper()
	var b strings.Builder
	for _, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			r.t.Fatalf("marshalling event: %v", err)
		}
		b.Write(raw)
		b.WriteByte('\n')
	}
	return r.WriteFile(name, b.String())
}

// Turn writes a turn_NNN directory with one summary per faction.
func (r *RunDir) Turn(turn int, factions map[string]map[string]any) *RunDir {
	for name, stats := range factions {
		r.WriteJSON(fmt.Sprintf("turn_%03d/factions/%s/summary.json", turn, name), stats)
	}
	return r
}

// Battle writes a combat summary into turn_NNN/battles.
func (r *RunDir) Battle(turn int, name string, summary map[string]any) *RunDir {
	return r.WriteJSON(fmt.Sprintf("turn_%03d/battles/%s.json", turn, name), summary)
}

// Event builds one structured telemetry record.
func Event(turn int, category, eventType, faction string, data map[string]any) map[string]any {
	e := map[string]any{
		"timestamp":  fmt.Sprintf("2026-01-01T00:%02d:00Z", turn%60),
		"turn":       turn,
		"category":   category,
		"event_type": eventType,
		"data":       data,
	}
	if faction != "" {
		e["faction"] = faction
	}
	return e
}

// FactionStats builds a faction summary with the given requisition and
// planet count.
func FactionStats(requisition float64, planets int) map[string]any {
	return map[string]any{
		"economy":   map[string]any{"requisition": requisition, "gross_income": 100, "upkeep_total": 40},
		"military":  map[string]any{"fleets_count": 2, "battles_fought": 1, "battles_won": 1},
		"territory": map[string]any{"planets_controlled": planets},
	}
}
