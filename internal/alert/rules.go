package alert

import (
	"cmp"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Pattern defaults applied when a rule leaves the field unset.
const (
	defaultStuckMetric    = "duration_ms"
	defaultStuckThreshold = 30000
	defaultGrowthMetric   = "memory_usage_mb"
	defaultGrowthRate     = 50
)

// evalThreshold updates the rule's consecutive-match counter. The counter is
// not reset after firing, so a persisting condition fires on every
// evaluation. Events without the metric leave the counter untouched.
func (e *Engine) evalThreshold(r types.ThresholdRule, ev types.Event) (candidate, bool) {
	raw, ok := ev.Data[r.Metric]
	if !ok || raw == nil {
		return candidate{}, false
	}
	v, ok := number(raw)
	if !ok || !r.Operator.Holds(v, r.Value) {
		e.counters[r.Name] = 0
		return candidate{}, false
	}
	e.counters[r.Name]++
	if e.counters[r.Name] < max(r.DurationTurns, 1) {
		return candidate{}, false
	}
	return candidate{
		severity: r.Severity,
		rule:     r.Name,
		message: render(r.Message, map[string]any{
			"value": raw, "faction": factionOf(ev), "metric": r.Metric, "threshold": r.Value, "turn": ev.Turn,
		}),
		context: eventContext(ev),
	}, true
}

// evalPattern appends ev to the rule's window, prunes events more than
// WindowTurns turns older than ev, and applies the rule's detector.
func (e *Engine) evalPattern(r types.PatternRule, ev types.Event) (candidate, bool) {
	window := append(e.windows[r.Name], ev)
	kept := window[:0]
	for _, w := range window {
		if ev.Turn-w.Turn <= r.WindowTurns {
			kept = append(kept, w)
		}
	}
	e.windows[r.Name] = kept

	var vars map[string]any
	switch r.Kind {
	case types.PatternSameErrorMessage:
		vars = sameErrorMessage(r, kept, ev)
	case types.PatternOperationStuck:
		vars = operationStuck(r, ev)
	case types.PatternMemoryGrowth:
		vars = memoryGrowth(r, kept)
	case types.PatternConsecutiveMatch:
		vars = consecutiveMatch(r, kept)
	}
	if vars == nil {
		return candidate{}, false
	}
	vars["faction"] = factionOf(ev)
	vars["turn"] = ev.Turn
	vars["threshold_count"] = r.ThresholdCount
	return candidate{
		severity: r.Severity,
		rule:     r.Name,
		message:  render(r.Message, vars),
		context:  eventContext(ev),
	}, true
}

func sameErrorMessage(r types.PatternRule, window []types.Event, ev types.Event) map[string]any {
	msg, _ := ev.Data["message"].(string)
	if msg == "" {
		return nil
	}
	n := 0
	for _, w := range window {
		if m, _ := w.Data["message"].(string); m == msg {
			n++
		}
	}
	if n < r.ThresholdCount {
		return nil
	}
	return map[string]any{"error_message": msg, "count": n}
}

func operationStuck(r types.PatternRule, ev types.Event) map[string]any {
	metric := cmp.Or(r.Metric, defaultStuckMetric)
	threshold := r.Threshold
	if threshold == 0 {
		threshold = defaultStuckThreshold
	}
	d, ok := number(ev.Data[metric])
	if !ok || d < threshold {
		return nil
	}
	op, _ := ev.Data["operation"].(string)
	return map[string]any{"operation": cmp.Or(op, "unknown"), "duration": d}
}

func memoryGrowth(r types.PatternRule, window []types.Event) map[string]any {
	if len(window) < 2 {
		return nil
	}
	metric := cmp.Or(r.Metric, defaultGrowthMetric)
	first, last := window[0], window[len(window)-1]
	span := last.Turn - first.Turn
	if span < 1 {
		return nil
	}
	// A sample without the metric counts as zero.
	a, _ := number(first.Data[metric])
	b, _ := number(last.Data[metric])
	limit := r.GrowthRate
	if limit == 0 {
		limit = defaultGrowthRate
	}
	rate := (b - a) / float64(span)
	if rate < limit {
		return nil
	}
	return map[string]any{"growth_rate": math.Round(rate*100) / 100}
}

// consecutiveMatch requires the newest ThresholdCount events to satisfy the
// comparison. Scanning stops at the first miss from the newest backward.
func consecutiveMatch(r types.PatternRule, window []types.Event) map[string]any {
	n := r.ThresholdCount
	if r.Metric == "" || n < 1 || len(window) < n {
		return nil
	}
	op := r.Operator
	if op == "" {
		op = types.OpLessThan
	}
	matches := 0
	for i := len(window) - 1; i >= len(window)-n; i-- {
		v, ok := number(window[i].Data[r.Metric])
		if !ok || !op.Holds(v, r.Threshold) {
			break
		}
		matches++
	}
	if matches < n {
		return nil
	}
	return map[string]any{"metric": r.Metric, "threshold": r.Threshold}
}

// render substitutes {name} placeholders. Unknown placeholders are left as
// written.
func render(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", format(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func factionOf(ev types.Event) string {
	if ev.Faction != "" {
		return ev.Faction
	}
	return "Unknown"
}

func eventContext(ev types.Event) map[string]any {
	ctx := map[string]any{
		"turn":       ev.Turn,
		"category":   ev.Category,
		"event_type": ev.EventType,
		"data":       ev.Data,
	}
	if ev.Faction != "" {
		ctx["faction"] = ev.Faction
	}
	if ev.RunID != "" {
		ctx["run_id"] = ev.RunID
	}
	return ctx
}
