package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// snapshotMetrics are the numeric faction columns callers may select by
// name. Column names cannot be bound as parameters, so only these are
// interpolated into SQL.
var snapshotMetrics = map[string]bool{
	"requisition": true, "promethium": true, "gross_income": true, "upkeep_total": true,
	"net_profit": true, "research_points": true, "idle_construction_slots": true,
	"idle_research_slots": true, "construction_efficiency": true, "fleets_count": true,
	"units_recruited": true, "units_lost": true, "battles_fought": true, "battles_won": true,
	"damage_dealt": true, "planets_controlled": true,
}

func checkMetrics(metrics []string) error {
	if len(metrics) == 0 {
		return fmt.Errorf("%w: no metrics requested", ErrUnknownMetric)
	}
	for _, m := range metrics {
		if !snapshotMetrics[m] {
			return fmt.Errorf("%w: %q", ErrUnknownMetric, m)
		}
	}
	return nil
}

// SeriesQuery selects a faction time series. BatchID and RunID are optional;
// without them every run of the universe contributes points.
type SeriesQuery struct {
	Universe string
	Faction  string
	Metrics  []string
	BatchID  string
	RunID    string
}

// SeriesPoint is one turn of a faction time series.
type SeriesPoint struct {
	BatchID string             `json:"batch_id"`
	RunID   string             `json:"run_id"`
	Turn    int                `json:"turn"`
	Values  map[string]float64 `json:"values"`
}

// FactionTimeSeries returns the requested snapshot metrics per turn.
func (s *Store) FactionTimeSeries(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	if err := checkMetrics(q.Metrics); err != nil {
		return nil, err
	}
	where := "universe = ? AND faction = ?"
	args := []any{q.Universe, q.Faction}
	if q.BatchID != "" {
		where += " AND batch_id = ?"
		args = append(args, q.BatchID)
	}
	if q.RunID != "" {
		where += " AND run_id = ?"
		args = append(args, q.RunID)
	}
	query := fmt.Sprintf("SELECT batch_id, run_id, turn, %s FROM factions WHERE %s ORDER BY batch_id, run_id, turn",
		strings.Join(q.Metrics, ", "), where)

	return cached(ctx, s, query, args, func() ([]SeriesPoint, error) {
		rows, err := s.queryRows(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []SeriesPoint
		for rows.Next() {
			cols, err := rows.SliceScan()
			if err != nil {
				return nil, &QueryError{Query: query, Params: len(args), Err: err}
			}
			p := SeriesPoint{
				BatchID: asString(cols[0]),
				RunID:   asString(cols[1]),
				Turn:    int(asFloat(cols[2])),
				Values:  make(map[string]float64, len(q.Metrics)),
			}
			for i, m := range q.Metrics {
				p.Values[m] = asFloat(cols[3+i])
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			return nil, &QueryError{Query: query, Params: len(args), Err: err}
		}
		return out, nil
	})
}

// FactionMetric is one faction's value of a metric at a turn.
type FactionMetric struct {
	Faction string  `db:"faction" json:"faction"`
	Turn    int     `db:"turn" json:"turn"`
	Value   float64 `db:"value" json:"value"`
}

// FactionComparison returns metric for every faction of a run, by turn.
func (s *Store) FactionComparison(ctx context.Context, key types.RunKey, metric string) ([]FactionMetric, error) {
	if err := checkMetrics([]string{metric}); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT faction, turn, %s AS value FROM factions
		WHERE universe = ? AND batch_id = ? AND run_id = ? ORDER BY turn, faction`, metric)
	args := []any{key.Universe, key.BatchID, key.RunID}
	return cached(ctx, s, q, args, func() ([]FactionMetric, error) {
		var out []FactionMetric
		if err := s.selectRows(ctx, &out, q, args...); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// GalaxySnapshot returns every faction snapshot of a run at turn. A turn of
// zero or less selects the latest indexed turn.
func (s *Store) GalaxySnapshot(ctx context.Context, key types.RunKey, turn int) ([]types.FactionSnapshot, error) {
	args := []any{key.Universe, key.BatchID, key.RunID}
	q := "SELECT " + strings.Join(snapshotColumns, ", ") + ` FROM factions
		WHERE universe = ? AND batch_id = ? AND run_id = ? AND turn = `
	if turn > 0 {
		q += "? ORDER BY faction"
		args = append(args, turn)
	} else {
		q += `(SELECT MAX(turn) FROM factions WHERE universe = ? AND batch_id = ? AND run_id = ?) ORDER BY faction`
		args = append(args, key.Universe, key.BatchID, key.RunID)
	}
	return cached(ctx, s, q, args, func() ([]types.FactionSnapshot, error) {
		var out []types.FactionSnapshot
		if err := s.selectRows(ctx, &out, q, args...); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// FinalSnapshots returns each faction's snapshot at the last turn that
// faction was recorded, for the runs matched by f.
func (s *Store) FinalSnapshots(ctx context.Context, f Filter) ([]types.FactionSnapshot, error) {
	where, args := f.where(filterScope{})
	q := "SELECT " + strings.Join(snapshotColumns, ", ") + " FROM factions AS f WHERE " + where + `
		AND turn = (SELECT MAX(g.turn) FROM factions AS g
			WHERE g.universe = f.universe AND g.batch_id = f.batch_id
			AND g.run_id = f.run_id AND g.faction = f.faction)
		ORDER BY faction, run_id`
	return cached(ctx, s, q, args, func() ([]types.FactionSnapshot, error) {
		var out []types.FactionSnapshot
		if err := s.selectRows(ctx, &out, q, args...); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// RunSummary is the comparison side of one run.
type RunSummary struct {
	Key           types.RunKey `json:"key"`
	TurnsTaken    int          `json:"turns_taken"`
	Winner        string       `json:"winner"`
	AvgIncome     float64      `json:"avg_income"`
	AvgEfficiency float64      `json:"avg_efficiency"`
}

// Comparison holds per-category deltas of a run against a baseline. Every
// delta is current minus baseline.
type Comparison struct {
	Current  RunSummary                    `json:"current"`
	Baseline RunSummary                    `json:"baseline"`
	Deltas   map[string]map[string]float64 `json:"deltas"`
	// WinnerChanged is true when the two runs ended with different winners.
	WinnerChanged bool `json:"winner_changed"`
}

type runAverages struct {
	GrossIncome    float64 `db:"gross_income"`
	NetProfit      float64 `db:"net_profit"`
	Efficiency     float64 `db:"construction_efficiency"`
	IdleSlots      float64 `db:"idle_construction_slots"`
	ResearchPoints float64 `db:"research_points"`
	DamageDealt    float64 `db:"damage_dealt"`
	Planets        float64 `db:"planets_controlled"`
}

func (s *Store) averages(ctx context.Context, key types.RunKey) (runAverages, error) {
	var a runAverages
	err := s.getRow(ctx, &a, `
		SELECT COALESCE(AVG(gross_income), 0) AS gross_income,
			COALESCE(AVG(net_profit), 0) AS net_profit,
			COALESCE(AVG(construction_efficiency), 0) AS construction_efficiency,
			COALESCE(AVG(idle_construction_slots), 0) AS idle_construction_slots,
			COALESCE(AVG(research_points), 0) AS research_points,
			COALESCE(AVG(damage_dealt), 0) AS damage_dealt,
			COALESCE(AVG(planets_controlled), 0) AS planets_controlled
		FROM factions WHERE universe = ? AND batch_id = ? AND run_id = ?`,
		key.Universe, key.BatchID, key.RunID)
	return a, err
}

// CompareRuns compares current against baseline across the victory,
// economic, industrial, research, military and resource categories.
func (s *Store) CompareRuns(ctx context.Context, current, baseline types.RunKey) (Comparison, error) {
	q := "compare-runs"
	args := []any{current.Universe, current.BatchID, current.RunID, baseline.Universe, baseline.BatchID, baseline.RunID}
	return cached(ctx, s, q, args, func() (Comparison, error) {
		curRun, err := s.GetRun(ctx, current)
		if err != nil {
			return Comparison{}, fmt.Errorf("loading current run: %w", err)
		}
		baseRun, err := s.GetRun(ctx, baseline)
		if err != nil {
			return Comparison{}, fmt.Errorf("loading baseline run: %w", err)
		}
		cur, err := s.averages(ctx, current)
		if err != nil {
			return Comparison{}, err
		}
		base, err := s.averages(ctx, baseline)
		if err != nil {
			return Comparison{}, err
		}
		curRev, err := s.RevenueBreakdown(ctx, ForRun(current))
		if err != nil {
			return Comparison{}, err
		}
		baseRev, err := s.RevenueBreakdown(ctx, ForRun(baseline))
		if err != nil {
			return Comparison{}, err
		}

		resources := map[string]float64{}
		for _, c := range curRev {
			resources[c.Category] += c.Total
		}
		for _, c := range baseRev {
			resources[c.Category] -= c.Total
		}

		return Comparison{
			Current:       RunSummary{Key: current, TurnsTaken: curRun.TurnsTaken, Winner: curRun.Winner, AvgIncome: cur.GrossIncome, AvgEfficiency: cur.Efficiency},
			Baseline:      RunSummary{Key: baseline, TurnsTaken: baseRun.TurnsTaken, Winner: baseRun.Winner, AvgIncome: base.GrossIncome, AvgEfficiency: base.Efficiency},
			WinnerChanged: curRun.Winner != baseRun.Winner,
			Deltas: map[string]map[string]float64{
				"victory": {"turns_delta": float64(curRun.TurnsTaken - baseRun.TurnsTaken)},
				"economic": {
					"gross_income_delta": cur.GrossIncome - base.GrossIncome,
					"net_profit_delta":   cur.NetProfit - base.NetProfit,
				},
				"industrial": {
					"efficiency_delta": cur.Efficiency - base.Efficiency,
					"idle_slots_delta": cur.IdleSlots - base.IdleSlots,
				},
				"research": {"research_points_delta": cur.ResearchPoints - base.ResearchPoints},
				"military": {
					"damage_dealt_delta": cur.DamageDealt - base.DamageDealt,
					"planets_delta":      cur.Planets - base.Planets,
				},
				"resources": resources,
			},
		}, nil
	})
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case int:
		return float64(n)
	case []byte:
		var f float64
		fmt.Sscan(string(n), &f)
		return f
	case string:
		var f float64
		fmt.Sscan(n, &f)
		return f
	}
	return 0
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
