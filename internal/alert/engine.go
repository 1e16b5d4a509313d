// Package alert evaluates threshold and pattern rules against indexed
// telemetry and records deduplicated alerts in a bounded history.
//
// An Engine is constructed explicitly and injected into whatever drives the
// simulation lifecycle; there is no process-wide instance.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// ErrAlertNotFound is returned by Acknowledge and Resolve for unknown ids.
var ErrAlertNotFound = errors.New("alert not found")

// Engine defaults.
const (
	DefaultHistorySize = 500
	dedupWindow        = 60 * time.Second
	dedupDepth         = 5
)

// Notifier receives every recorded alert.
type Notifier interface {
	Dispatch(ctx context.Context, a types.Alert)
}

// Engine holds rule state and the alert history. It is safe for concurrent
// use; notification happens outside the engine lock.
type Engine struct {
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
	historySize int

	mu         sync.Mutex
	thresholds []types.ThresholdRule
	patterns   []types.PatternRule
	counters   map[string]int
	windows    map[string][]types.Event
	history    []types.Alert
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces the wall clock used for timestamps and deduplication.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHistorySize bounds the in-memory alert history.
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// NewEngine creates an engine evaluating rules. notifier may be nil.
func NewEngine(rules []types.Rule, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		notifier:    notifier,
		logger:      slog.Default(),
		now:         time.Now,
		historySize: DefaultHistorySize,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "alert")
	e.Reload(rules)
	return e
}

// Reload replaces the rule set. Threshold counters and pattern windows are
// reset; the alert history is kept.
func (e *Engine) Reload(rules []types.Rule) {
	var thresholds []types.ThresholdRule
	var patterns []types.PatternRule
	for _, r := range rules {
		switch r := r.(type) {
		case types.ThresholdRule:
			thresholds = append(thresholds, r)
		case types.PatternRule:
			patterns = append(patterns, r)
		}
	}

	e.mu.Lock()
	e.thresholds = thresholds
	e.patterns = patterns
	e.counters = make(map[string]int)
	e.windows = make(map[string][]types.Event)
	e.mu.Unlock()

	e.logger.Info("alert rules loaded", "thresholds", len(thresholds), "patterns", len(patterns))
}

// candidate is an alert produced by a rule, not yet deduplicated.
type candidate struct {
	severity types.Severity
	rule     string
	message  string
	context  map[string]any
}

// ProcessEvent evaluates every threshold rule whose metric appears in the
// event payload and every pattern rule matching the event's category or
// type. It returns the alerts that were recorded.
func (e *Engine) ProcessEvent(ctx context.Context, ev types.Event) []types.Alert {
	e.mu.Lock()
	var cands []candidate
	for _, r := range e.thresholds {
		if c, ok := e.evalThreshold(r, ev); ok {
			cands = append(cands, c)
		}
	}
	for _, r := range e.patterns {
		if r.EventType != ev.Category && r.EventType != ev.EventType {
			continue
		}
		if c, ok := e.evalPattern(r, ev); ok {
			cands = append(cands, c)
		}
	}
	recorded := e.recordLocked(ctx, cands)
	e.mu.Unlock()

	e.dispatch(ctx, recorded)
	return recorded
}

// ProcessLogEvent feeds an error log record to the pattern rules watching
// the error category.
func (e *Engine) ProcessLogEvent(ctx context.Context, level slog.Level, message string, turn int, faction string) []types.Alert {
	ev := types.Event{
		Turn:      turn,
		Timestamp: e.now().UTC().Format(time.RFC3339Nano),
		Category:  types.CategoryError,
		EventType: types.EventLogError,
		Faction:   faction,
		Data:      map[string]any{"message": message, "level": level.String()},
	}

	e.mu.Lock()
	var cands []candidate
	for _, r := range e.patterns {
		if r.EventType != types.CategoryError {
			continue
		}
		if c, ok := e.evalPattern(r, ev); ok {
			cands = append(cands, c)
		}
	}
	recorded := e.recordLocked(ctx, cands)
	e.mu.Unlock()

	e.dispatch(ctx, recorded)
	return recorded
}

// Trigger records an alert directly, subject to deduplication. It reports
// whether the alert was recorded.
func (e *Engine) Trigger(ctx context.Context, severity types.Severity, rule, message string, fields map[string]any) (types.Alert, bool) {
	e.mu.Lock()
	recorded := e.recordLocked(ctx, []candidate{{severity: severity, rule: rule, message: message, context: fields}})
	e.mu.Unlock()

	e.dispatch(ctx, recorded)
	if len(recorded) == 0 {
		return types.Alert{}, false
	}
	return recorded[0], true
}

// recordLocked deduplicates candidates against the most recent alerts and
// appends the survivors to the history. The caller holds e.mu.
func (e *Engine) recordLocked(ctx context.Context, cands []candidate) []types.Alert {
	var out []types.Alert
	for _, c := range cands {
		now := e.now()
		if e.duplicateLocked(c.message, now) {
			metrics.AlertsSuppressed.Add(ctx, 1)
			e.logger.Debug("duplicate alert suppressed", "rule", c.rule, "message", c.message)
			continue
		}
		a := types.Alert{
			ID:        ulid.Make().String(),
			Timestamp: now,
			Severity:  c.severity,
			RuleName:  c.rule,
			Message:   c.message,
			Context:   c.context,
		}
		e.history = append(e.history, a)
		if over := len(e.history) - e.historySize; over > 0 {
			e.history = slices.Delete(e.history, 0, over)
		}
		metrics.AlertsFired.Add(ctx, 1)
		out = append(out, a)
	}
	return out
}

func (e *Engine) duplicateLocked(message string, now time.Time) bool {
	start := max(0, len(e.history)-dedupDepth)
	for _, a := range e.history[start:] {
		if a.Message == message && now.Sub(a.Timestamp) < dedupWindow {
			return true
		}
	}
	return false
}

func (e *Engine) dispatch(ctx context.Context, alerts []types.Alert) {
	if e.notifier == nil {
		return
	}
	for _, a := range alerts {
		e.notifier.Dispatch(ctx, a)
	}
}

// Acknowledge marks an alert as seen.
func (e *Engine) Acknowledge(id string) error {
	return e.update(id, func(a *types.Alert) { a.Acknowledged = true })
}

// Resolve marks an alert as resolved. Resolved alerts are no longer active.
func (e *Engine) Resolve(id string) error {
	return e.update(id, func(a *types.Alert) { a.Resolved = true })
}

func (e *Engine) update(id string, fn func(*types.Alert)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.history {
		if e.history[i].ID == id {
			fn(&e.history[i])
			return nil
		}
	}
	return ErrAlertNotFound
}

// Active returns the unresolved alerts, oldest first.
func (e *Engine) Active() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Alert
	for _, a := range e.history {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// History returns a copy of the recorded alerts, oldest first.
func (e *Engine) History() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.history)
}

// HistoryFilter narrows Query. Zero fields match everything.
type HistoryFilter struct {
	MinSeverity types.Severity
	Rule        string
	Unresolved  bool
}

// Query returns the recorded alerts matching f, newest first.
func (e *Engine) Query(f HistoryFilter) []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Alert
	for i := len(e.history) - 1; i >= 0; i-- {
		a := e.history[i]
		if a.Severity < f.MinSeverity || (f.Rule != "" && a.RuleName != f.Rule) || (f.Unresolved && a.Resolved) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ClearHistory drops every recorded alert.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
}
