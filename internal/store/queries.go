package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

const eventColumns = `id, universe, batch_id, run_id, turn, timestamp, category, event_type,
	COALESCE(faction, '') AS faction, location, entity_type, entity_name, data_json, keywords,
	trace_id, parent_trace_id`

const runColumns = `universe, batch_id, run_id, started_at, finished_at, winner, turns_taken,
	is_gold_standard, metadata_json`

// Filter narrows event, transaction and battle-performance queries. Zero
// values are unbounded. Category applies to events and transactions,
// EventType to events only.
type Filter struct {
	Universe  string   `json:"universe,omitempty"`
	BatchID   string   `json:"batch_id,omitempty"`
	RunID     string   `json:"run_id,omitempty"`
	Category  string   `json:"category,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Factions  []string `json:"factions,omitempty"`
	TurnFrom  int      `json:"turn_from,omitempty"`
	TurnTo    int      `json:"turn_to,omitempty"`
}

// ForRun returns a filter scoped to one run.
func ForRun(key types.RunKey) Filter {
	return Filter{Universe: key.Universe, BatchID: key.BatchID, RunID: key.RunID}
}

type filterScope struct {
	category  bool
	eventType bool
}

func (f Filter) where(scope filterScope) (string, []any) {
	clauses := []string{"1 = 1"}
	var args []any
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.Universe != "" {
		add("universe = ?", f.Universe)
	}
	if f.BatchID != "" {
		add("batch_id = ?", f.BatchID)
	}
	if f.RunID != "" {
		add("run_id = ?", f.RunID)
	}
	if scope.category && f.Category != "" {
		add("category = ? COLLATE NOCASE", f.Category)
	}
	if scope.eventType && f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if len(f.Factions) > 0 {
		clauses = append(clauses, "faction IN (?"+strings.Repeat(", ?", len(f.Factions)-1)+")")
		for _, fa := range f.Factions {
			args = append(args, fa)
		}
	}
	if f.TurnFrom > 0 {
		add("turn >= ?", f.TurnFrom)
	}
	if f.TurnTo > 0 {
		add("turn <= ?", f.TurnTo)
	}
	return strings.Join(clauses, " AND "), args
}

// paginate runs a COUNT(*) and a LIMIT/OFFSET query sharing one predicate.
func paginate[T any](ctx context.Context, s *Store, table, columns, where string, args []any, order string, req types.PageRequest, post func([]T)) (types.Page[T], error) {
	req = req.Normalize()
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	dataQ := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ? OFFSET ?", columns, table, where, order)
	dataArgs := slices.Concat(args, []any{req.PageSize, req.Offset()})

	return cached(ctx, s, dataQ, dataArgs, func() (types.Page[T], error) {
		var total int
		if err := s.getRow(ctx, &total, countQ, args...); err != nil {
			return types.Page[T]{}, err
		}
		var rows []T
		if err := s.selectRows(ctx, &rows, dataQ, dataArgs...); err != nil {
			return types.Page[T]{}, err
		}
		if post != nil {
			post(rows)
		}
		return types.NewPage(rows, req, total), nil
	})
}

func decodeEvents(evs []types.Event) {
	for i := range evs {
		evs[i].DecodeData()
	}
}

// QueryEvents returns a page of events matching f in insertion order.
func (s *Store) QueryEvents(ctx context.Context, f Filter, req types.PageRequest) (types.Page[types.Event], error) {
	where, args := f.where(filterScope{category: true, eventType: true})
	return paginate(ctx, s, "events", eventColumns, where, args, "turn ASC, id ASC", req, decodeEvents)
}

// QueryResourceTransactions returns a page of ledger entries matching f.
func (s *Store) QueryResourceTransactions(ctx context.Context, f Filter, req types.PageRequest) (types.Page[types.ResourceTransaction], error) {
	where, args := f.where(filterScope{category: true})
	cols := "id, universe, batch_id, run_id, turn, faction, category, amount, source_planet"
	return paginate[types.ResourceTransaction](ctx, s, "resource_transactions", cols, where, args, "turn ASC, id ASC", req, nil)
}

// QueryBattlePerformance returns a page of per-faction battle metrics matching f.
func (s *Store) QueryBattlePerformance(ctx context.Context, f Filter, req types.PageRequest) (types.Page[types.BattlePerformance], error) {
	where, args := f.where(filterScope{})
	cols := `id, universe, batch_id, run_id, battle_id, turn, faction, damage_dealt, resources_lost,
		combat_effectiveness_ratio, force_composition, attrition_rate`
	return paginate[types.BattlePerformance](ctx, s, "battle_performance", cols, where, args, "turn ASC, id ASC", req, nil)
}

// SearchEvents performs a keyword search over events matching f. Every term
// must match. Without the FTS5 index it falls back to LIKE matching.
func (s *Store) SearchEvents(ctx context.Context, text string, f Filter, req types.PageRequest) (types.Page[types.Event], error) {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return s.QueryEvents(ctx, f, req)
	}
	where, args := f.where(filterScope{category: true, eventType: true})
	if s.fullText {
		quoted := make([]string, len(terms))
		for i, t := range terms {
			quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		}
		where += " AND id IN (SELECT rowid FROM events_fts WHERE events_fts MATCH ?)"
		args = append(args, strings.Join(quoted, " "))
	} else {
		for _, t := range terms {
			where += " AND keywords LIKE ?"
			args = append(args, "%"+t+"%")
		}
	}
	return paginate(ctx, s, "events", eventColumns, where, args, "turn ASC, id ASC", req, decodeEvents)
}

// RunFilter narrows run discovery.
type RunFilter struct {
	Universe string
	BatchID  string
	GoldOnly bool
}

// ListRuns returns runs matching f, newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]types.Run, error) {
	clauses := []string{"1 = 1"}
	var args []any
	if f.Universe != "" {
		clauses = append(clauses, "universe = ?")
		args = append(args, f.Universe)
	}
	if f.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.GoldOnly {
		clauses = append(clauses, "is_gold_standard = 1")
	}
	q := "SELECT " + runColumns + " FROM runs WHERE " + strings.Join(clauses, " AND ") +
		" ORDER BY started_at DESC, rowid DESC"
	return cached(ctx, s, q, args, func() ([]types.Run, error) {
		var runs []types.Run
		if err := s.selectRows(ctx, &runs, q, args...); err != nil {
			return nil, err
		}
		return runs, nil
	})
}

// LatestRun returns the most recently started run of universe.
func (s *Store) LatestRun(ctx context.Context, universe string) (types.Run, error) {
	var run types.Run
	err := s.getRow(ctx, &run,
		"SELECT "+runColumns+" FROM runs WHERE universe = ? ORDER BY started_at DESC, rowid DESC LIMIT 1", universe)
	return run, err
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, key types.RunKey) (types.Run, error) {
	var run types.Run
	err := s.getRow(ctx, &run,
		"SELECT "+runColumns+" FROM runs WHERE universe = ? AND batch_id = ? AND run_id = ?",
		key.Universe, key.BatchID, key.RunID)
	return run, err
}

// RunExists reports whether metadata for key has been indexed.
func (s *Store) RunExists(ctx context.Context, key types.RunKey) (bool, error) {
	var n int
	err := s.getRow(ctx, &n, "SELECT COUNT(*) FROM runs WHERE universe = ? AND batch_id = ? AND run_id = ?",
		key.Universe, key.BatchID, key.RunID)
	return n > 0, err
}

// GoldStandard returns the gold-standard run of universe.
func (s *Store) GoldStandard(ctx context.Context, universe string) (types.Run, error) {
	var run types.Run
	err := s.getRow(ctx, &run,
		"SELECT "+runColumns+" FROM runs WHERE universe = ? AND is_gold_standard = 1 LIMIT 1", universe)
	return run, err
}

// IndexedTurns returns the distinct turns that already have faction or
// battle rows for key, ascending. It bypasses the cache.
func (s *Store) IndexedTurns(ctx context.Context, key types.RunKey) ([]int, error) {
	var turns []int
	err := s.selectRows(ctx, &turns, `
		SELECT DISTINCT turn FROM factions WHERE universe = ? AND batch_id = ? AND run_id = ?
		UNION
		SELECT DISTINCT turn FROM battles WHERE universe = ? AND batch_id = ? AND run_id = ?
		ORDER BY turn`,
		key.Universe, key.BatchID, key.RunID, key.Universe, key.BatchID, key.RunID)
	return turns, err
}

// RunMaxTurn returns the highest turn seen in the faction or event tables.
func (s *Store) RunMaxTurn(ctx context.Context, key types.RunKey) (int, error) {
	var turn int
	err := s.getRow(ctx, &turn, `
		SELECT COALESCE(MAX(turn), 0) FROM (
			SELECT turn FROM factions WHERE universe = ? AND batch_id = ? AND run_id = ?
			UNION ALL
			SELECT turn FROM events WHERE universe = ? AND batch_id = ? AND run_id = ?
		)`,
		key.Universe, key.BatchID, key.RunID, key.Universe, key.BatchID, key.RunID)
	return turn, err
}

// CategoryTotal is the summed amount of one resource category.
type CategoryTotal struct {
	Category string  `db:"category" json:"category"`
	Total    float64 `db:"total" json:"total"`
}

// RevenueBreakdown sums positive transactions matching f by category.
func (s *Store) RevenueBreakdown(ctx context.Context, f Filter) ([]CategoryTotal, error) {
	where, args := f.where(filterScope{category: true})
	q := "SELECT category, SUM(amount) AS total FROM resource_transactions WHERE " + where +
		" AND amount > 0 GROUP BY category ORDER BY category"
	return cached(ctx, s, q, args, func() ([]CategoryTotal, error) {
		var out []CategoryTotal
		if err := s.selectRows(ctx, &out, q, args...); err != nil {
			return nil, err
		}
		return out, nil
	})
}
