// Package replay compares two indexed runs of the same universe to find
// where their event streams first diverge and how far their final faction
// states drifted apart.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Divergence reasons.
const (
	ReasonContentMismatch = "content_mismatch"
	ReasonLengthMismatch  = "length_mismatch"
)

// volatileFields differ between otherwise identical runs.
var volatileFields = []string{"timestamp", "duration_ms", "cpu_time", "trace_id", "parent_trace_id", "id"}

// Source reads the indexed runs.
type Source interface {
	QueryEvents(ctx context.Context, f store.Filter, req types.PageRequest) (types.Page[types.Event], error)
	FinalSnapshots(ctx context.Context, f store.Filter) ([]types.FactionSnapshot, error)
}

// Event is the comparable part of a stored event.
type Event struct {
	Turn      int            `json:"turn"`
	Category  string         `json:"category"`
	EventType string         `json:"event_type"`
	Faction   string         `json:"faction,omitempty"`
	Data      map[string]any `json:"data"`
}

// Divergence is the first position where the two streams differ. A side
// is nil when its stream ended first.
type Divergence struct {
	Index  int    `json:"index"`
	Turn   int    `json:"turn"`
	EventA *Event `json:"event_a"`
	EventB *Event `json:"event_b"`
	Reason string `json:"reason"`
}

// Drift is run B's final state minus run A's for one faction.
type Drift struct {
	Planets     int     `json:"planets"`
	Fleets      int     `json:"fleets"`
	GrossIncome float64 `json:"income"`
}

// Report is the outcome of Compare.
type Report struct {
	RunA       string           `json:"run_a"`
	RunB       string           `json:"run_b"`
	Divergence *Divergence      `json:"divergence"`
	Drift      map[string]Drift `json:"drift_metrics"`
}

// Compare loads both runs of universe, ordered by turn and insertion, and
// reports the first divergence (nil when the streams match) and the
// per-faction drift of the final snapshots.
func Compare(ctx context.Context, src Source, universe, runA, runB string) (Report, error) {
	rep := Report{RunA: runA, RunB: runB}

	a, err := events(ctx, src, universe, runA)
	if err != nil {
		return rep, err
	}
	b, err := events(ctx, src, universe, runB)
	if err != nil {
		return rep, err
	}
	rep.Divergence = FirstDivergence(a, b)

	finalA, err := finalState(ctx, src, universe, runA)
	if err != nil {
		return rep, err
	}
	finalB, err := finalState(ctx, src, universe, runB)
	if err != nil {
		return rep, err
	}
	rep.Drift = drift(finalA, finalB)
	return rep, nil
}

// FirstDivergence returns the first index at which a and b differ, or nil.
func FirstDivergence(a, b []Event) *Divergence {
	n := min(len(a), len(b))
	for i := range n {
		if !equal(a[i], b[i]) {
			return &Divergence{Index: i, Turn: a[i].Turn, EventA: &a[i], EventB: &b[i], Reason: ReasonContentMismatch}
		}
	}
	if len(a) == len(b) {
		return nil
	}
	d := &Divergence{Index: n, Reason: ReasonLengthMismatch}
	if len(a) > n {
		d.EventA, d.Turn = &a[n], a[n].Turn
	} else {
		d.EventB, d.Turn = &b[n], b[n].Turn
	}
	return d
}

// Sanitize drops the fields expected to differ between replays.
func Sanitize(ev types.Event) Event {
	data := maps.Clone(ev.Data)
	if data == nil {
		data = map[string]any{}
	}
	for _, k := range volatileFields {
		delete(data, k)
	}
	return Event{Turn: ev.Turn, Category: ev.Category, EventType: ev.EventType, Faction: ev.Faction, Data: data}
}

// equal compares canonical encodings so numeric representations and map
// ordering do not matter.
func equal(a, b Event) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ea) == string(eb)
}

func events(ctx context.Context, src Source, universe, runID string) ([]Event, error) {
	f := store.Filter{Universe: universe, RunID: runID}
	var out []Event
	for page := 1; ; page++ {
		p, err := src.QueryEvents(ctx, f, types.PageRequest{Page: page, PageSize: types.MaxPageSize})
		if err != nil {
			return nil, fmt.Errorf("loading events of %s: %w", runID, err)
		}
		for _, ev := range p.Data {
			out = append(out, Sanitize(ev))
		}
		if page >= p.TotalPages {
			return out, nil
		}
	}
}

func finalState(ctx context.Context, src Source, universe, runID string) (map[string]types.FactionSnapshot, error) {
	snaps, err := src.FinalSnapshots(ctx, store.Filter{Universe: universe, RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("loading final state of %s: %w", runID, err)
	}
	out := make(map[string]types.FactionSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.Faction] = s
	}
	return out, nil
}

func drift(a, b map[string]types.FactionSnapshot) map[string]Drift {
	out := make(map[string]Drift, len(a))
	for f := range joinKeys(a, b) {
		sa, sb := a[f], b[f]
		out[f] = Drift{
			Planets:     sb.PlanetsControlled - sa.PlanetsControlled,
			Fleets:      sb.FleetsCount - sa.FleetsCount,
			GrossIncome: sb.GrossIncome - sa.GrossIncome,
		}
	}
	return out
}

func joinKeys(a, b map[string]types.FactionSnapshot) iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range a {
			if !yield(k) {
				return
			}
		}
		for k := range b {
			if _, dup := a[k]; dup {
				continue
			}
			if !yield(k) {
				return
			}
		}
	}
}
