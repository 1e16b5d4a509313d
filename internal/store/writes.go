package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// BattleRecord is a battle together with its per-faction performance rows.
type BattleRecord struct {
	Battle       types.Battle
	Performances []types.BattlePerformance
}

// Batch is a set of rows produced from ingested events and written in one
// transaction.
type Batch struct {
	Events       []types.Event
	Transactions []types.ResourceTransaction
	Battles      []BattleRecord
	Snapshots    []types.FactionSnapshot
}

// Empty reports whether the batch carries no rows.
func (b Batch) Empty() bool {
	return len(b.Events) == 0 && len(b.Transactions) == 0 && len(b.Battles) == 0 && len(b.Snapshots) == 0
}

// Append adds every row of o to b.
func (b *Batch) Append(o Batch) {
	b.Events = append(b.Events, o.Events...)
	b.Transactions = append(b.Transactions, o.Transactions...)
	b.Battles = append(b.Battles, o.Battles...)
	b.Snapshots = append(b.Snapshots, o.Snapshots...)
}

// WriteResult reports what a WriteBatch call persisted.
type WriteResult struct {
	EventIDs       []int64
	BattlesAdded   int
	BattlesSkipped int
}

const insertEventSQL = `
	INSERT INTO events (universe, batch_id, run_id, turn, timestamp, category, event_type,
		faction, location, entity_type, entity_name, data_json, keywords, trace_id, parent_trace_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertTransactionSQL = `
	INSERT INTO resource_transactions (universe, batch_id, run_id, turn, faction, category, amount, source_planet)
	VALUES (:universe, :batch_id, :run_id, :turn, :faction, :category, :amount, :source_planet)`

const insertBattleSQL = `
	INSERT INTO battles (universe, batch_id, run_id, turn, location, battle_id, factions, winner,
		rounds, total_damage, units_destroyed, data_json)
	VALUES (:universe, :batch_id, :run_id, :turn, :location, :battle_id, :factions, :winner,
		:rounds, :total_damage, :units_destroyed, :data_json)
	ON CONFLICT (universe, batch_id, run_id, turn, location) DO NOTHING`

const insertPerformanceSQL = `
	INSERT INTO battle_performance (universe, batch_id, run_id, battle_id, turn, faction, damage_dealt,
		resources_lost, combat_effectiveness_ratio, force_composition, attrition_rate)
	VALUES (:universe, :batch_id, :run_id, :battle_id, :turn, :faction, :damage_dealt,
		:resources_lost, :combat_effectiveness_ratio, :force_composition, :attrition_rate)
	ON CONFLICT (universe, batch_id, run_id, battle_id, faction) DO NOTHING`

// snapshotColumns are the factions columns in insert order. The first five
// form the primary key.
var snapshotColumns = []string{
	"universe", "batch_id", "run_id", "turn", "faction",
	"requisition", "promethium", "gross_income", "upkeep_total", "net_profit", "research_points",
	"idle_construction_slots", "idle_research_slots", "construction_efficiency",
	"fleets_count", "units_recruited", "units_lost", "battles_fought", "battles_won",
	"damage_dealt", "planets_controlled", "data_json",
}

var upsertSnapshotSQL = buildSnapshotUpsert()

func buildSnapshotUpsert() string {
	named := make([]string, len(snapshotColumns))
	for i, c := range snapshotColumns {
		named[i] = ":" + c
	}
	var updates []string
	for _, c := range snapshotColumns[5:] {
		updates = append(updates, c+" = excluded."+c)
	}
	return fmt.Sprintf(
		"INSERT INTO factions (%s) VALUES (%s) ON CONFLICT (universe, batch_id, run_id, turn, faction) DO UPDATE SET %s",
		strings.Join(snapshotColumns, ", "), strings.Join(named, ", "), strings.Join(updates, ", "),
	)
}

// WriteBatch persists all rows of b in one transaction. Events are appended,
// snapshots are upserted, and battles already present for their
// (run, turn, location) are skipped together with their performance rows.
func (s *Store) WriteBatch(ctx context.Context, b Batch) (WriteResult, error) {
	var res WriteResult
	if b.Empty() {
		return res, nil
	}
	err := s.write(ctx, func(tx *sqlx.Tx) error {
		for _, ev := range b.Events {
			r, err := tx.ExecContext(ctx, insertEventSQL,
				ev.Universe, ev.BatchID, ev.RunID, ev.Turn, ev.Timestamp, ev.Category, ev.EventType,
				nullString(ev.Faction), ev.Location, ev.EntityType, ev.EntityName,
				orEmptyObject(ev.DataJSON), ev.Keywords, ev.TraceID, ev.ParentTraceID)
			if err != nil {
				return &QueryError{Query: insertEventSQL, Params: 15, Err: err}
			}
			id, err := r.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading event id: %w", err)
			}
			res.EventIDs = append(res.EventIDs, id)
		}

		for _, t := range b.Transactions {
			if _, err := tx.NamedExecContext(ctx, insertTransactionSQL, t); err != nil {
				return &QueryError{Query: insertTransactionSQL, Params: 8, Err: err}
			}
		}

		for _, snap := range b.Snapshots {
			snap.DataJSON = orEmptyObject(snap.DataJSON)
			if _, err := tx.NamedExecContext(ctx, upsertSnapshotSQL, snap); err != nil {
				return &QueryError{Query: upsertSnapshotSQL, Params: len(snapshotColumns), Err: err}
			}
		}

		for _, rec := range b.Battles {
			rec.Battle.DataJSON = orEmptyObject(rec.Battle.DataJSON)
			r, err := tx.NamedExecContext(ctx, insertBattleSQL, rec.Battle)
			if err != nil {
				return &QueryError{Query: insertBattleSQL, Params: 12, Err: err}
			}
			if n, _ := r.RowsAffected(); n == 0 {
				res.BattlesSkipped++
				continue
			}
			res.BattlesAdded++
			for _, p := range rec.Performances {
				if _, err := tx.NamedExecContext(ctx, insertPerformanceSQL, p); err != nil {
					return &QueryError{Query: insertPerformanceSQL, Params: 11, Err: err}
				}
			}
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return res, nil
}

const upsertRunSQL = `
	INSERT INTO runs (universe, batch_id, run_id, started_at, finished_at, winner, turns_taken, metadata_json)
	VALUES (:universe, :batch_id, :run_id, :started_at, :finished_at, :winner, :turns_taken, :metadata_json)
	ON CONFLICT (universe, run_id, batch_id) DO UPDATE SET
		started_at    = CASE WHEN excluded.started_at <> '' THEN excluded.started_at ELSE runs.started_at END,
		finished_at   = CASE WHEN excluded.finished_at <> '' THEN excluded.finished_at ELSE runs.finished_at END,
		winner        = CASE WHEN excluded.winner <> '' THEN excluded.winner ELSE runs.winner END,
		turns_taken   = MAX(excluded.turns_taken, runs.turns_taken),
		metadata_json = CASE WHEN excluded.metadata_json <> '{}' THEN excluded.metadata_json ELSE runs.metadata_json END`

// UpsertRun inserts run metadata or updates it on completion. Empty fields
// never overwrite known values and the gold-standard flag is preserved.
func (s *Store) UpsertRun(ctx context.Context, run types.Run) error {
	run.MetadataJSON = orEmptyObject(run.MetadataJSON)
	return s.write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, upsertRunSQL, run); err != nil {
			return &QueryError{Query: upsertRunSQL, Params: 8, Err: err}
		}
		return nil
	})
}

// EnsureRun creates a bare run row when none exists yet. The streaming path
// calls it on the first event of a run.
func (s *Store) EnsureRun(ctx context.Context, key types.RunKey) error {
	const q = `INSERT INTO runs (universe, batch_id, run_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	return s.write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, key.Universe, key.BatchID, key.RunID); err != nil {
			return &QueryError{Query: q, Params: 3, Err: err}
		}
		return nil
	})
}

// SetGoldStandard marks key as the single gold-standard run of its universe.
func (s *Store) SetGoldStandard(ctx context.Context, key types.RunKey) error {
	return s.write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET is_gold_standard = 0 WHERE universe = ?`, key.Universe); err != nil {
			return fmt.Errorf("clearing gold standard: %w", err)
		}
		r, err := tx.ExecContext(ctx,
			`UPDATE runs SET is_gold_standard = 1 WHERE universe = ? AND batch_id = ? AND run_id = ?`,
			key.Universe, key.BatchID, key.RunID)
		if err != nil {
			return fmt.Errorf("setting gold standard: %w", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s/%s/%s: %w", key.Universe, key.BatchID, key.RunID, ErrNotFound)
		}
		return nil
	})
}

// ClearGoldStandard removes the gold-standard mark from every run of universe.
func (s *Store) ClearGoldStandard(ctx context.Context, universe string) error {
	return s.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE runs SET is_gold_standard = 0 WHERE universe = ?`, universe)
		if err != nil {
			return fmt.Errorf("clearing gold standard: %w", err)
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
