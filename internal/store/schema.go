package store

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	universe         TEXT    NOT NULL,
	batch_id         TEXT    NOT NULL,
	run_id           TEXT    NOT NULL,
	started_at       TEXT    NOT NULL DEFAULT '',
	finished_at      TEXT    NOT NULL DEFAULT '',
	winner           TEXT    NOT NULL DEFAULT '',
	turns_taken      INTEGER NOT NULL DEFAULT 0,
	is_gold_standard INTEGER NOT NULL DEFAULT 0,
	metadata_json    TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY (universe, run_id, batch_id)
);

CREATE TABLE IF NOT EXISTS events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	universe        TEXT    NOT NULL,
	batch_id        TEXT    NOT NULL,
	run_id          TEXT    NOT NULL,
	turn            INTEGER NOT NULL DEFAULT 0,
	timestamp       TEXT    NOT NULL DEFAULT '',
	category        TEXT    NOT NULL DEFAULT '',
	event_type      TEXT    NOT NULL DEFAULT '',
	faction         TEXT,
	location        TEXT    NOT NULL DEFAULT '',
	entity_type     TEXT    NOT NULL DEFAULT '',
	entity_name     TEXT    NOT NULL DEFAULT '',
	data_json       TEXT    NOT NULL DEFAULT '{}',
	keywords        TEXT    NOT NULL DEFAULT '',
	trace_id        TEXT    NOT NULL DEFAULT '',
	parent_trace_id TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS factions (
	universe                TEXT    NOT NULL,
	batch_id                TEXT    NOT NULL,
	run_id                  TEXT    NOT NULL,
	turn                    INTEGER NOT NULL,
	faction                 TEXT    NOT NULL,
	requisition             REAL    NOT NULL DEFAULT 0,
	promethium              REAL    NOT NULL DEFAULT 0,
	gross_income            REAL    NOT NULL DEFAULT 0,
	upkeep_total            REAL    NOT NULL DEFAULT 0,
	net_profit              REAL    NOT NULL DEFAULT 0,
	research_points         REAL    NOT NULL DEFAULT 0,
	idle_construction_slots INTEGER NOT NULL DEFAULT 0,
	idle_research_slots     INTEGER NOT NULL DEFAULT 0,
	construction_efficiency REAL    NOT NULL DEFAULT 0,
	fleets_count            INTEGER NOT NULL DEFAULT 0,
	units_recruited         INTEGER NOT NULL DEFAULT 0,
	units_lost              INTEGER NOT NULL DEFAULT 0,
	battles_fought          INTEGER NOT NULL DEFAULT 0,
	battles_won             INTEGER NOT NULL DEFAULT 0,
	damage_dealt            REAL    NOT NULL DEFAULT 0,
	planets_controlled      INTEGER NOT NULL DEFAULT 0,
	data_json               TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY (universe, batch_id, run_id, turn, faction)
);

CREATE TABLE IF NOT EXISTS battles (
	universe        TEXT    NOT NULL,
	batch_id        TEXT    NOT NULL,
	run_id          TEXT    NOT NULL,
	turn            INTEGER NOT NULL,
	location        TEXT    NOT NULL,
	battle_id       TEXT    NOT NULL,
	factions        TEXT    NOT NULL DEFAULT '',
	winner          TEXT    NOT NULL DEFAULT '',
	rounds          INTEGER NOT NULL DEFAULT 0,
	total_damage    REAL    NOT NULL DEFAULT 0,
	units_destroyed INTEGER NOT NULL DEFAULT 0,
	data_json       TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY (universe, batch_id, run_id, turn, location)
);

CREATE TABLE IF NOT EXISTS battle_performance (
	id                         INTEGER PRIMARY KEY AUTOINCREMENT,
	universe                   TEXT    NOT NULL,
	batch_id                   TEXT    NOT NULL,
	run_id                     TEXT    NOT NULL,
	battle_id                  TEXT    NOT NULL,
	turn                       INTEGER NOT NULL,
	faction                    TEXT    NOT NULL,
	damage_dealt               REAL    NOT NULL DEFAULT 0,
	resources_lost             REAL    NOT NULL DEFAULT 0,
	combat_effectiveness_ratio REAL    NOT NULL DEFAULT 0,
	force_composition          TEXT    NOT NULL DEFAULT '{}',
	attrition_rate             REAL    NOT NULL DEFAULT 0,
	UNIQUE (universe, batch_id, run_id, battle_id, faction)
);

CREATE TABLE IF NOT EXISTS resource_transactions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	universe      TEXT    NOT NULL,
	batch_id      TEXT    NOT NULL,
	run_id        TEXT    NOT NULL,
	turn          INTEGER NOT NULL,
	faction       TEXT    NOT NULL,
	category      TEXT    NOT NULL,
	amount        REAL    NOT NULL,
	source_planet TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events (universe, batch_id, run_id, turn);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type);
CREATE INDEX IF NOT EXISTS idx_events_category ON events (category);
CREATE INDEX IF NOT EXISTS idx_events_faction ON events (faction);
CREATE INDEX IF NOT EXISTS idx_factions_faction ON factions (universe, faction, turn);
CREATE INDEX IF NOT EXISTS idx_battles_run ON battles (universe, batch_id, run_id, turn);
CREATE INDEX IF NOT EXISTS idx_perf_run ON battle_performance (universe, batch_id, run_id, turn);
CREATE INDEX IF NOT EXISTS idx_tx_run ON resource_transactions (universe, batch_id, run_id, turn, faction);
CREATE INDEX IF NOT EXISTS idx_tx_category ON resource_transactions (category);
`

// The full-text index is an external-content FTS5 table over events.keywords.
// Events are never updated or deleted, so only the insert trigger is needed.
const fullTextDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
	keywords,
	content='events',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS events_fts_ai AFTER INSERT ON events BEGIN
	INSERT INTO events_fts(rowid, keywords) VALUES (new.id, new.keywords);
END;
`

// column is an additive migration: the column is added when absent.
type column struct {
	table string
	name  string
	ddl   string
}

// migrations lists columns added after the first released layout. Entries
// are only ever appended.
var migrations = []column{
	{"runs", "is_gold_standard", "INTEGER NOT NULL DEFAULT 0"},
	{"runs", "metadata_json", "TEXT NOT NULL DEFAULT '{}'"},
	{"events", "location", "TEXT NOT NULL DEFAULT ''"},
	{"events", "entity_type", "TEXT NOT NULL DEFAULT ''"},
	{"events", "entity_name", "TEXT NOT NULL DEFAULT ''"},
	{"events", "trace_id", "TEXT NOT NULL DEFAULT ''"},
	{"events", "parent_trace_id", "TEXT NOT NULL DEFAULT ''"},
	{"factions", "promethium", "REAL NOT NULL DEFAULT 0"},
	{"factions", "research_points", "REAL NOT NULL DEFAULT 0"},
	{"factions", "idle_construction_slots", "INTEGER NOT NULL DEFAULT 0"},
	{"factions", "idle_research_slots", "INTEGER NOT NULL DEFAULT 0"},
	{"factions", "construction_efficiency", "REAL NOT NULL DEFAULT 0"},
	{"resource_transactions", "source_planet", "TEXT NOT NULL DEFAULT ''"},
	{"battle_performance", "attrition_rate", "REAL NOT NULL DEFAULT 0"},
}

// EnsureSchema creates all tables and indexes that do not exist yet. A
// failure to create the full-text index is logged and reported through the
// returned flag; the store then falls back to LIKE search.
func EnsureSchema(db *sqlx.DB, logger *slog.Logger) (fullText bool, err error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return false, fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.Exec(fullTextDDL); err != nil {
		logger.Warn("full-text index unavailable, falling back to LIKE search", "error", err)
		return false, nil
	}
	return true, nil
}

// Migrate applies every additive column migration that has not been applied.
// Individual failures are logged and skipped. It returns the number of
// columns added.
func Migrate(db *sqlx.DB, logger *slog.Logger) int {
	added := 0
	for _, m := range migrations {
		exists, err := hasColumn(db, m.table, m.name)
		if err != nil {
			logger.Warn("failed to inspect column", "table", m.table, "column", m.name, "error", err)
			continue
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.name, m.ddl)
		if _, err := db.Exec(stmt); err != nil {
			logger.Warn("migration failed, continuing with current schema", "table", m.table, "column", m.name, "error", err)
			continue
		}
		logger.Info("migrated column", "table", m.table, "column", m.name)
		added++
	}
	return added
}

func hasColumn(db *sqlx.DB, table, name string) (bool, error) {
	var n int
	err := db.Get(&n, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, name)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
