package alert

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (r *recorder) Dispatch(_ context.Context, a types.Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func metricEvent(turn int, data map[string]any) types.Event {
	return types.Event{Turn: turn, Category: "economy", EventType: "faction_stats", Faction: "Orks", Data: data}
}

func TestThreshold_ConsecutiveDuration(t *testing.T) {
	clock := newClock()
	rule := types.ThresholdRule{
		Name: "low_requisition", Severity: types.SeverityWarning,
		Message: "{faction} requisition at {value}", Metric: "requisition",
		Operator: types.OpLessThan, Value: 100, DurationTurns: 3,
	}
	e := NewEngine([]types.Rule{rule}, nil, WithClock(clock.Now))

	values := []float64{50, 500, 40, 30, 20} // counter 1,0,1,2,3
	for i, v := range values {
		turn := i + 1
		alerts := e.ProcessEvent(context.Background(), metricEvent(turn, map[string]any{"requisition": v}))
		if turn < 5 {
			assert.Empty(t, alerts, "turn %d", turn)
			continue
		}
		require.Len(t, alerts, 1)
		assert.Equal(t, "Orks requisition at 20", alerts[0].Message)
		assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
		assert.Equal(t, 5, alerts[0].Context["turn"])
	}

	// The counter stays hot: the next matching evaluation fires again.
	clock.Advance(2 * time.Minute)
	alerts := e.ProcessEvent(context.Background(), metricEvent(6, map[string]any{"requisition": 20.0}))
	assert.Len(t, alerts, 1)

	// Events without the metric do not touch the counter.
	clock.Advance(2 * time.Minute)
	e.ProcessEvent(context.Background(), metricEvent(7, map[string]any{"other": 1.0}))
	alerts = e.ProcessEvent(context.Background(), metricEvent(8, map[string]any{"requisition": 20.0}))
	assert.Len(t, alerts, 1)
}

func TestDeduplication(t *testing.T) {
	clock := newClock()
	rec := &recorder{}
	e := NewEngine(nil, rec, WithClock(clock.Now))
	ctx := context.Background()

	_, ok := e.Trigger(ctx, types.SeverityError, "r", "reactor breach", nil)
	assert.True(t, ok)
	clock.Advance(30 * time.Second)
	_, ok = e.Trigger(ctx, types.SeverityError, "r", "reactor breach", nil)
	assert.False(t, ok)
	_, ok = e.Trigger(ctx, types.SeverityError, "r", "hull breach", nil)
	assert.True(t, ok)

	assert.Len(t, e.History(), 2)
	assert.Equal(t, 2, rec.Len())

	clock.Advance(31 * time.Second)
	_, ok = e.Trigger(ctx, types.SeverityError, "r", "reactor breach", nil)
	assert.True(t, ok, "outside the 60s window")
}

func TestDeduplication_KeysOnMessageOnly(t *testing.T) {
	e := NewEngine(nil, nil, WithClock(newClock().Now))
	ctx := context.Background()

	_, ok := e.Trigger(ctx, types.SeverityWarning, "low_requisition", "Orks are broke", nil)
	require.True(t, ok)
	// Rule name and severity are not part of the key.
	_, ok = e.Trigger(ctx, types.SeverityCritical, "bankruptcy", "Orks are broke", nil)
	assert.False(t, ok)
	assert.Len(t, e.History(), 1)
}

func TestDeduplication_OnlyRecentFive(t *testing.T) {
	e := NewEngine(nil, nil, WithClock(newClock().Now))
	ctx := context.Background()

	_, ok := e.Trigger(ctx, types.SeverityInfo, "r", "first", nil)
	require.True(t, ok)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		_, ok := e.Trigger(ctx, types.SeverityInfo, "r", m, nil)
		require.True(t, ok)
	}
	_, ok = e.Trigger(ctx, types.SeverityInfo, "r", "first", nil)
	assert.True(t, ok, "older alerts are not consulted")
}

func TestHistoryBounded(t *testing.T) {
	clock := newClock()
	e := NewEngine(nil, nil, WithClock(clock.Now), WithHistorySize(3))
	for _, m := range []string{"a", "b", "c", "d"} {
		e.Trigger(context.Background(), types.SeverityInfo, "r", m, nil)
	}
	h := e.History()
	require.Len(t, h, 3)
	assert.Equal(t, "b", h[0].Message)
}

func TestAcknowledgeResolve(t *testing.T) {
	e := NewEngine(nil, nil)
	a, ok := e.Trigger(context.Background(), types.SeverityCritical, "r", "m", nil)
	require.True(t, ok)
	assert.NotEmpty(t, a.ID)

	require.NoError(t, e.Acknowledge(a.ID))
	assert.True(t, e.Active()[0].Acknowledged)

	require.NoError(t, e.Resolve(a.ID))
	assert.Empty(t, e.Active())
	assert.Len(t, e.History(), 1)

	assert.ErrorIs(t, e.Resolve("nope"), ErrAlertNotFound)

	e.ClearHistory()
	assert.Empty(t, e.History())
}

func TestQueryHistory(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx := context.Background()
	e.Trigger(ctx, types.SeverityInfo, "economy", "low income", nil)
	crit, _ := e.Trigger(ctx, types.SeverityCritical, "economy", "bankrupt", nil)
	e.Trigger(ctx, types.SeverityError, "combat", "fleet lost", nil)

	got := e.Query(HistoryFilter{MinSeverity: types.SeverityError})
	require.Len(t, got, 2)
	assert.Equal(t, "fleet lost", got[0].Message, "newest first")

	assert.Len(t, e.Query(HistoryFilter{Rule: "economy"}), 2)

	require.NoError(t, e.Resolve(crit.ID))
	got = e.Query(HistoryFilter{Rule: "economy", Unresolved: true})
	require.Len(t, got, 1)
	assert.Equal(t, "low income", got[0].Message)
}

func TestPattern_SameErrorMessage(t *testing.T) {
	rule := types.PatternRule{
		Name: "repeated", Severity: types.SeverityError, Kind: types.PatternSameErrorMessage,
		EventType: types.CategoryError, WindowTurns: 10, ThresholdCount: 3,
		Message: "repeated error: {error_message}",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()

	assert.Empty(t, e.ProcessLogEvent(ctx, slog.LevelError, "pathfinding failed", 1, "Tau"))
	assert.Empty(t, e.ProcessLogEvent(ctx, slog.LevelError, "other failure", 2, "Tau"))
	assert.Empty(t, e.ProcessLogEvent(ctx, slog.LevelError, "pathfinding failed", 3, "Tau"))
	alerts := e.ProcessLogEvent(ctx, slog.LevelError, "pathfinding failed", 4, "Tau")
	require.Len(t, alerts, 1)
	assert.Equal(t, "repeated error: pathfinding failed", alerts[0].Message)
}

func TestPattern_WindowPrunedByTurn(t *testing.T) {
	rule := types.PatternRule{
		Name: "repeated", Kind: types.PatternSameErrorMessage,
		EventType: types.CategoryError, WindowTurns: 2, ThresholdCount: 2, Message: "{error_message}",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()

	e.ProcessLogEvent(ctx, slog.LevelError, "boom", 1, "")
	assert.Empty(t, e.ProcessLogEvent(ctx, slog.LevelError, "boom", 4, ""), "turn 1 fell out of the window")
	assert.Len(t, e.ProcessLogEvent(ctx, slog.LevelError, "boom", 5, ""), 1)
}

func TestPattern_OperationStuck(t *testing.T) {
	rule := types.PatternRule{
		Name: "stuck", Kind: types.PatternOperationStuck, EventType: "performance",
		WindowTurns: 10, Message: "{operation} is stuck",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()

	ev := types.Event{Turn: 1, Category: "performance", EventType: "operation_timing",
		Data: map[string]any{"operation": "ai_turn", "duration_ms": 1200.0}}
	assert.Empty(t, e.ProcessEvent(ctx, ev))

	ev.Data = map[string]any{"operation": "ai_turn", "duration_ms": 45000.0}
	alerts := e.ProcessEvent(ctx, ev)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ai_turn is stuck", alerts[0].Message)
}

func TestPattern_MemoryGrowth(t *testing.T) {
	rule := types.PatternRule{
		Name: "leak", Kind: types.PatternMemoryGrowth, EventType: "system",
		WindowTurns: 10, Message: "memory growing {growth_rate} MB/turn",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()
	mem := func(turn int, mb float64) types.Event {
		return types.Event{Turn: turn, Category: "system", Data: map[string]any{"memory_usage_mb": mb}}
	}

	assert.Empty(t, e.ProcessEvent(ctx, mem(1, 100)))
	assert.Empty(t, e.ProcessEvent(ctx, mem(3, 160)), "30 MB/turn is below the default 50")
	alerts := e.ProcessEvent(ctx, mem(4, 400))
	require.Len(t, alerts, 1)
	assert.Equal(t, "memory growing 100 MB/turn", alerts[0].Message)
}

func TestPattern_MemoryGrowthMissingSampleIsZero(t *testing.T) {
	rule := types.PatternRule{
		Name: "leak", Kind: types.PatternMemoryGrowth, EventType: "system",
		WindowTurns: 10, Message: "memory growing {growth_rate} MB/turn",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()

	assert.Empty(t, e.ProcessEvent(ctx, types.Event{Turn: 1, Category: "system", Data: map[string]any{"phase": "boot"}}))
	alerts := e.ProcessEvent(ctx, types.Event{Turn: 3, Category: "system", Data: map[string]any{"memory_usage_mb": 150.0}})
	require.Len(t, alerts, 1)
	assert.Equal(t, "memory growing 75 MB/turn", alerts[0].Message)
}

func TestPattern_ConsecutiveMatch(t *testing.T) {
	rule := types.PatternRule{
		Name: "bankrupt", Kind: types.PatternConsecutiveMatch, EventType: "faction_stats",
		WindowTurns: 10, ThresholdCount: 3, Metric: "net_profit", Threshold: 0, Operator: types.OpLessThan,
		Message: "{faction} lost money for {threshold_count} turns",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()

	for turn, profit := range []float64{-5, -3, 10, -1, -2} {
		assert.Empty(t, e.ProcessEvent(ctx, metricEvent(turn+1, map[string]any{"net_profit": profit})), "turn %d", turn+1)
	}
	alerts := e.ProcessEvent(ctx, metricEvent(6, map[string]any{"net_profit": -4.0}))
	require.Len(t, alerts, 1)
	assert.Equal(t, "Orks lost money for 3 turns", alerts[0].Message)
}

func TestPattern_IgnoresOtherEventTypes(t *testing.T) {
	rule := types.PatternRule{Name: "stuck", Kind: types.PatternOperationStuck, EventType: "performance", WindowTurns: 10}
	e := NewEngine([]types.Rule{rule}, nil)
	ev := types.Event{Turn: 1, Category: "economy", Data: map[string]any{"duration_ms": 99999.0}}
	assert.Empty(t, e.ProcessEvent(context.Background(), ev))
}

func TestReloadResetsState(t *testing.T) {
	rule := types.ThresholdRule{Name: "r", Metric: "x", Operator: types.OpGreaterThan, Value: 1, DurationTurns: 2, Message: "m"}
	e := NewEngine([]types.Rule{rule}, nil)
	ctx := context.Background()

	e.ProcessEvent(ctx, metricEvent(1, map[string]any{"x": 5.0}))
	e.Reload([]types.Rule{rule})
	assert.Empty(t, e.ProcessEvent(ctx, metricEvent(2, map[string]any{"x": 5.0})))
	assert.Len(t, e.ProcessEvent(ctx, metricEvent(3, map[string]any{"x": 5.0})), 1)
}

func TestLogHandler(t *testing.T) {
	rule := types.PatternRule{
		Name: "repeated", Kind: types.PatternSameErrorMessage, EventType: types.CategoryError,
		WindowTurns: 10, ThresholdCount: 2, Message: "{faction}: {error_message}",
	}
	e := NewEngine([]types.Rule{rule}, nil)
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewTextHandler(&buf, nil), e, slog.LevelError))

	logger.Error("supply line cut", "turn", 3, "faction", "Eldar")
	logger.Info("supply line cut", "turn", 3)
	logger.With("component", "notify").Error("supply line cut", "turn", 3)
	assert.Empty(t, e.History())

	logger.With("faction", "Eldar").Error("supply line cut", "turn", 4)
	h := e.History()
	require.Len(t, h, 1)
	assert.Equal(t, "Eldar: supply line cut", h[0].Message)
	assert.Contains(t, buf.String(), "supply line cut")
}

func TestRender(t *testing.T) {
	assert.Equal(t, "a 1.5 b {missing}", render("a {value} b {missing}", map[string]any{"value": 1.5}))
	assert.Equal(t, "plain", render("plain", nil))
}

func TestConcurrentProcessing(t *testing.T) {
	rule := types.ThresholdRule{Name: "r", Metric: "x", Operator: types.OpGreaterThan, Value: 0, DurationTurns: 1, Message: "{turn}"}
	rec := &recorder{}
	e := NewEngine([]types.Rule{rule}, rec)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ProcessEvent(context.Background(), metricEvent(i, map[string]any{"x": 1.0}))
		}()
	}
	wg.Wait()
	assert.Equal(t, len(e.History()), rec.Len())
}
