package indexer_test

import (
	"github.com/klauspost/compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/indexer"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/testutil"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func count(t *testing.T, st *store.Store, table string, key types.RunKey) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().Get(&n,
		"SELECT COUNT(*) FROM "+table+" WHERE universe = ? AND batch_id = ? AND run_id = ?",
		key.Universe, key.BatchID, key.RunID))
	return n
}

func battle(attackerDamage, attackerLost float64) map[string]any {
	return map[string]any{
		"location": "Cadia",
		"summary": map[string]any{
			"winner": "Imperium",
			"factions": map[string]any{
				"Imperium": map[string]any{"damage": attackerDamage, "resources_lost": attackerLost},
				"Chaos":    map[string]any{"damage": 20.0, "resources_lost": 80.0},
			},
		},
	}
}

func buildRun(t *testing.T, root string, turns int) *testutil.RunDir {
	t.Helper()
	rd := testutil.NewRunDir(t, root, "void", "batch_001", "run_0001").
		Manifest("Imperium", turns).
		Events("telemetry_001.json",
			testutil.Event(1, "economy", "resource_transaction", "Imperium", map[string]any{"category": "mining", "amount": 10.0}),
			testutil.Event(1, "economy", "resource_transaction", "Imperium", map[string]any{"category": "Mining", "amount": 10.0}),
			testutil.Event(2, "economy", "resource_transaction", "Chaos", map[string]any{"category": "MINING", "amount": 10.0}),
			testutil.Event(2, "economy", "unit_recruited", "Chaos", map[string]any{"cost": 40.0}),
		)
	for turn := 1; turn <= turns; turn++ {
		rd.Turn(turn, map[string]map[string]any{
			"Imperium": testutil.FactionStats(float64(100*turn), turn),
			"Chaos":    testutil.FactionStats(float64(50*turn), 2),
		})
	}
	rd.Battle(3, "cadia", battle(150, 0))
	return rd
}

func TestIndexRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ix := indexer.New(st)
	rd := buildRun(t, t.TempDir(), 5)
	key := types.RunKey{Universe: "void", BatchID: "batch_001", RunID: "run_0001"}

	rep, err := ix.IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)
	assert.True(t, rep.FirstPass)
	assert.Equal(t, key, rep.Run)
	assert.Equal(t, 4, rep.EventsIndexed)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rep.TurnsIndexed)
	assert.Equal(t, 1, rep.BattlesIndexed)
	assert.Empty(t, rep.Problems)

	counts := map[string]int{}
	for _, table := range []string{"events", "factions", "battles", "battle_performance", "resource_transactions"} {
		counts[table] = count(t, st, table, key)
	}
	assert.Equal(t, 10, counts["factions"])

	rep, err = ix.IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)
	assert.False(t, rep.FirstPass)
	assert.Zero(t, rep.EventsIndexed)
	assert.Empty(t, rep.TurnsIndexed)
	for table, n := range counts {
		assert.Equal(t, n, count(t, st, table, key), table)
	}

	run, err := st.GetRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Imperium", run.Winner)
	assert.Equal(t, 5, run.TurnsTaken)
}

func TestIndexRun_IncrementalTurn(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ix := indexer.New(st)
	rd := buildRun(t, t.TempDir(), 5)
	key := types.RunKey{Universe: "void", BatchID: "batch_001", RunID: "run_0001"}

	_, err := ix.IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)
	before := count(t, st, "factions", key)

	rd.Turn(6, map[string]map[string]any{"Imperium": testutil.FactionStats(600, 6)})
	rep, err := ix.IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)
	assert.Equal(t, []int{6}, rep.TurnsIndexed)
	assert.Equal(t, before+1, count(t, st, "factions", key))

	turns, err := st.IndexedTurns(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, turns)
}

func TestIndexRun_FiniteEffectiveness(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	rd := buildRun(t, t.TempDir(), 3)

	_, err := indexer.New(st).IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)

	page, err := st.QueryBattlePerformance(ctx, store.Filter{Factions: []string{"Imperium"}}, types.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, 150.0, page.Data[0].CombatEffectivenessRatio)
}

func TestIndexRun_CategoriesAggregate(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	rd := buildRun(t, t.TempDir(), 1)

	_, err := indexer.New(st).IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)

	totals, err := st.RevenueBreakdown(ctx, store.Filter{Universe: "void"})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "Mining", totals[0].Category)
	assert.Equal(t, 30.0, totals[0].Total)
}

func TestIndexRun_HybridLog(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	rd := testutil.NewRunDir(t, t.TempDir(), "void", "batch_001", "run_0002").
		WriteFile("full_campaign_log.txt", "=== Turn 4 ===\n"+
			`{"event_type": "research_complete", "turn": 4, "faction": "Tau", "data": {"cost": 30}}`+"\n"+
			"\n"+
			"Tau fleet retreats from Dal'yth\n").
		WriteFile("campaign.json", `{"event_type": "ignored", "turn": 1}`+"\n")

	rep, err := indexer.New(st).IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.EventsIndexed)
	assert.Equal(t, 2, rep.TextLines)

	page, err := st.QueryEvents(ctx, store.Filter{RunID: "run_0002", Category: types.CategoryTextLog}, types.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	for _, ev := range page.Data {
		assert.Equal(t, 4, ev.Turn)
	}

	page, err = st.QueryEvents(ctx, store.Filter{RunID: "run_0002", EventType: "ignored"}, types.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount, "campaign.json is only read without a consolidated log")
}

func TestIndexRun_GzipAndArray(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	rd := testutil.NewRunDir(t, t.TempDir(), "void", "batch_001", "run_0003").
		WriteFile("events.json", `[{"event_type": "unit_recruited", "turn": 1, "data": {"cost": 5}}, {"no": "type"}]`)

	f, err := os.Create(filepath.Join(rd.Path, "telemetry_002.json.gz"))
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(`{"event_type": "income_collected", "turn": 1, "data": {"net": 12}}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	rep, err := indexer.New(st).IndexRun(ctx, rd.Path, "void")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.EventsIndexed)
	assert.Len(t, rep.Problems, 1)
}

func TestIndexBatch(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	root := t.TempDir()
	for _, run := range []string{"run_0001", "run_0002", "run_0003"} {
		testutil.NewRunDir(t, root, "void", "batch_007", run).
			Manifest("Orks", 1).
			Turn(1, map[string]map[string]any{"Orks": testutil.FactionStats(10, 1)})
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "void", "batch_007", "run_notes.txt"), []byte("x"), 0o644))

	reports, err := indexer.New(st, indexer.WithWorkers(2)).IndexBatch(ctx, filepath.Join(root, "void", "batch_007"))
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.Equal(t, "void", r.Run.Universe)
		assert.Equal(t, []int{1}, r.TurnsIndexed)
	}

	runs, err := st.ListRuns(ctx, store.RunFilter{Universe: "void", BatchID: "batch_007"})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestIndexEvent_CreatesRun(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ix := indexer.New(st)
	key := types.RunKey{Universe: "void", BatchID: "live", RunID: "run_9"}

	ev, err := ix.IndexEvent(ctx, key, types.RawEvent{Turn: 1, EventType: "income_collected", Faction: "Orks", Data: map[string]any{"net": 5.0}})
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)

	exists, err := st.RunExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, count(t, st, "resource_transactions", key))
}
