package types

import (
	"encoding/json"
	"time"
)

// RunKey identifies one simulation execution.
type RunKey struct {
	Universe string `json:"universe"`
	BatchID  string `json:"batch_id"`
	RunID    string `json:"run_id"`
}

// Run is the persisted metadata of one simulation execution.
type Run struct {
	Universe       string `db:"universe" json:"universe"`
	BatchID        string `db:"batch_id" json:"batch_id"`
	RunID          string `db:"run_id" json:"run_id"`
	StartedAt      string `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     string `db:"finished_at" json:"finished_at,omitempty"`
	Winner         string `db:"winner" json:"winner,omitempty"`
	TurnsTaken     int    `db:"turns_taken" json:"turns_taken"`
	IsGoldStandard bool   `db:"is_gold_standard" json:"is_gold_standard"`
	MetadataJSON   string `db:"metadata_json" json:"metadata,omitempty"`
}

// Key returns the run's composite identity.
func (r Run) Key() RunKey {
	return RunKey{Universe: r.Universe, BatchID: r.BatchID, RunID: r.RunID}
}

// RawEvent is one ingested telemetry record as produced by the simulation.
type RawEvent struct {
	Turn          int            `json:"turn"`
	Timestamp     string         `json:"timestamp"`
	Category      string         `json:"category"`
	EventType     string         `json:"event_type"`
	Faction       string         `json:"faction,omitempty"`
	Data          map[string]any `json:"data"`
	TraceID       string         `json:"trace_id,omitempty"`
	ParentTraceID string         `json:"parent_trace_id,omitempty"`
}

// Event is an immutable, normalized telemetry fact.
type Event struct {
	ID            int64          `db:"id" json:"id"`
	Universe      string         `db:"universe" json:"universe"`
	BatchID       string         `db:"batch_id" json:"batch_id"`
	RunID         string         `db:"run_id" json:"run_id"`
	Turn          int            `db:"turn" json:"turn"`
	Timestamp     string         `db:"timestamp" json:"timestamp"`
	Category      string         `db:"category" json:"category"`
	EventType     string         `db:"event_type" json:"event_type"`
	Faction       string         `db:"faction" json:"faction,omitempty"`
	Location      string         `db:"location" json:"location,omitempty"`
	EntityType    string         `db:"entity_type" json:"entity_type,omitempty"`
	EntityName    string         `db:"entity_name" json:"entity_name,omitempty"`
	DataJSON      string         `db:"data_json" json:"data_json,omitempty"`
	Keywords      string         `db:"keywords" json:"keywords"`
	TraceID       string         `db:"trace_id" json:"trace_id,omitempty"`
	ParentTraceID string         `db:"parent_trace_id" json:"parent_trace_id,omitempty"`
	Data          map[string]any `db:"-" json:"data"`
}

// DecodeData fills Data from DataJSON. Undecodable payloads leave Data empty.
func (e *Event) DecodeData() {
	if e.DataJSON == "" {
		return
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.DataJSON), &m); err == nil {
		e.Data = m
	}
}

// FactionSnapshot is the state of one faction at the end of a turn.
type FactionSnapshot struct {
	Universe               string  `db:"universe" json:"universe"`
	BatchID                string  `db:"batch_id" json:"batch_id"`
	RunID                  string  `db:"run_id" json:"run_id"`
	Turn                   int     `db:"turn" json:"turn"`
	Faction                string  `db:"faction" json:"faction"`
	Requisition            float64 `db:"requisition" json:"requisition"`
	Promethium             float64 `db:"promethium" json:"promethium"`
	GrossIncome            float64 `db:"gross_income" json:"gross_income"`
	UpkeepTotal            float64 `db:"upkeep_total" json:"upkeep_total"`
	NetProfit              float64 `db:"net_profit" json:"net_profit"`
	ResearchPoints         float64 `db:"research_points" json:"research_points"`
	IdleConstructionSlots  int     `db:"idle_construction_slots" json:"idle_construction_slots"`
	IdleResearchSlots      int     `db:"idle_research_slots" json:"idle_research_slots"`
	ConstructionEfficiency float64 `db:"construction_efficiency" json:"construction_efficiency"`
	FleetsCount            int     `db:"fleets_count" json:"fleets_count"`
	UnitsRecruited         int     `db:"units_recruited" json:"units_recruited"`
	UnitsLost              int     `db:"units_lost" json:"units_lost"`
	BattlesFought          int     `db:"battles_fought" json:"battles_fought"`
	BattlesWon             int     `db:"battles_won" json:"battles_won"`
	DamageDealt            float64 `db:"damage_dealt" json:"damage_dealt"`
	PlanetsControlled      int     `db:"planets_controlled" json:"planets_controlled"`
	DataJSON               string  `db:"data_json" json:"data_json"`
}

// Battle summarizes one engagement at a location.
type Battle struct {
	Universe       string  `db:"universe" json:"universe"`
	BatchID        string  `db:"batch_id" json:"batch_id"`
	RunID          string  `db:"run_id" json:"run_id"`
	Turn           int     `db:"turn" json:"turn"`
	Location       string  `db:"location" json:"location"`
	BattleID       string  `db:"battle_id" json:"battle_id"`
	Factions       string  `db:"factions" json:"factions"`
	Winner         string  `db:"winner" json:"winner"`
	Rounds         int     `db:"rounds" json:"rounds"`
	TotalDamage    float64 `db:"total_damage" json:"total_damage"`
	UnitsDestroyed int     `db:"units_destroyed" json:"units_destroyed"`
	DataJSON       string  `db:"data_json" json:"data_json"`
}

// BattlePerformance is one faction's derived metrics for a battle.
type BattlePerformance struct {
	ID                       int64   `db:"id" json:"id"`
	Universe                 string  `db:"universe" json:"universe"`
	BatchID                  string  `db:"batch_id" json:"batch_id"`
	RunID                    string  `db:"run_id" json:"run_id"`
	BattleID                 string  `db:"battle_id" json:"battle_id"`
	Turn                     int     `db:"turn" json:"turn"`
	Faction                  string  `db:"faction" json:"faction"`
	DamageDealt              float64 `db:"damage_dealt" json:"damage_dealt"`
	ResourcesLost            float64 `db:"resources_lost" json:"resources_lost"`
	CombatEffectivenessRatio float64 `db:"combat_effectiveness_ratio" json:"combat_effectiveness_ratio"`
	ForceCompositionJSON     string  `db:"force_composition" json:"force_composition"`
	AttritionRate            float64 `db:"attrition_rate" json:"attrition_rate"`
}

// ResourceTransaction is an append-only ledger entry. Positive amounts are
// revenue, negative amounts are spending.
type ResourceTransaction struct {
	ID           int64   `db:"id" json:"id"`
	Universe     string  `db:"universe" json:"universe"`
	BatchID      string  `db:"batch_id" json:"batch_id"`
	RunID        string  `db:"run_id" json:"run_id"`
	Turn         int     `db:"turn" json:"turn"`
	Faction      string  `db:"faction" json:"faction"`
	Category     string  `db:"category" json:"category"`
	Amount       float64 `db:"amount" json:"amount"`
	SourcePlanet string  `db:"source_planet" json:"source_planet,omitempty"`
}

// Alert is an emitted incident.
type Alert struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Severity     Severity       `json:"severity"`
	RuleName     string         `json:"rule_name"`
	Message      string         `json:"message"`
	Context      map[string]any `json:"context,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
}

// Page is one page of a paginated query result.
type Page[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// Default and maximum page sizes.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// PageRequest selects a page. Page numbers start at 1.
type PageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Normalize clamps the request to valid bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// NewPage builds a page from rows and a total count.
func NewPage[T any](rows []T, req PageRequest, total int) Page[T] {
	if rows == nil {
		rows = []T{}
	}
	pages := 0
	if req.PageSize > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return Page[T]{Data: rows, Page: req.Page, PageSize: req.PageSize, TotalCount: total, TotalPages: pages}
}
