package indexer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// minResourcesLost is the divisor floor for the combat effectiveness ratio.
// Resources are whole units, so a flawless battle counts as losing one.
const minResourcesLost = 1.0

// NormalizeCategory title-cases a resource category so spellings such as
// "mining", "MINING" and "Mining" aggregate together. Underscores and dashes
// become spaces.
func NormalizeCategory(c string) string {
	c = strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(c))
	if c == "" {
		return "Misc"
	}
	return cases.Title(language.Und).String(strings.Join(strings.Fields(c), " "))
}

// Keywords derives the full-text field of an event: event type, category,
// faction, then every string value of the payload and every string inside
// list values, de-duplicated in first-seen order. Text-log events use the
// raw line.
func Keywords(raw types.RawEvent) string {
	if raw.Category == types.CategoryTextLog {
		return str(raw.Data["message"])
	}
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(raw.EventType)
	add(raw.Category)
	add(raw.Faction)

	keys := make([]string, 0, len(raw.Data))
	for k := range raw.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := raw.Data[k].(type) {
		case string:
			add(v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
	}
	return strings.Join(out, " ")
}

// Normalize converts a raw record into the generic Event row.
func Normalize(key types.RunKey, raw types.RawEvent) types.Event {
	data := raw.Data
	if data == nil {
		data = map[string]any{}
	}
	ts := raw.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	faction := raw.Faction
	if faction == "" {
		faction = str(data["faction"])
	}
	return types.Event{
		Universe:      key.Universe,
		BatchID:       key.BatchID,
		RunID:         key.RunID,
		Turn:          raw.Turn,
		Timestamp:     ts,
		Category:      raw.Category,
		EventType:     raw.EventType,
		Faction:       faction,
		Location:      firstString(data, "location", "planet", "system"),
		EntityType:    str(data["entity_type"]),
		EntityName:    firstString(data, "entity_name", "unit", "fleet"),
		DataJSON:      encode(data),
		Keywords:      Keywords(raw),
		TraceID:       raw.TraceID,
		ParentTraceID: raw.ParentTraceID,
		Data:          data,
	}
}

// Route produces every row an event contributes: the generic Event plus any
// ledger, battle or snapshot rows its type unpacks into.
func Route(key types.RunKey, raw types.RawEvent) store.Batch {
	ev := Normalize(key, raw)
	b := store.Batch{Events: []types.Event{ev}}
	b.Transactions = transactions(key, ev)

	switch raw.EventType {
	case types.EventBattleEnd:
		if rec, ok := battleRecord(key, ev.Turn, ev.Data); ok {
			b.Battles = append(b.Battles, rec)
		}
	case types.EventFactionStats:
		if ev.Faction != "" {
			b.Snapshots = append(b.Snapshots, snapshot(key, ev.Turn, ev.Faction, ev.Data))
		}
	}
	return b
}

func transactions(key types.RunKey, ev types.Event) []types.ResourceTransaction {
	d := ev.Data
	tx := func(category string, amount float64) types.ResourceTransaction {
		return types.ResourceTransaction{
			Universe:     key.Universe,
			BatchID:      key.BatchID,
			RunID:        key.RunID,
			Turn:         ev.Turn,
			Faction:      ev.Faction,
			Category:     NormalizeCategory(category),
			Amount:       amount,
			SourcePlanet: firstString(d, "source_planet", "planet", "location"),
		}
	}

	var out []types.ResourceTransaction
	switch ev.EventType {
	case types.EventIncomeCollected:
		if breakdown := mapOf(d["breakdown"]); len(breakdown) > 0 {
			cats := make([]string, 0, len(breakdown))
			for c := range breakdown {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				if strings.EqualFold(c, "base") {
					continue
				}
				if amt := num(breakdown[c]); amt > 0 {
					out = append(out, tx(c, amt))
				}
			}
			return out
		}
		if amt, ok := firstNumber(d, "net", "gross", "amount"); ok && amt != 0 {
			out = append(out, tx("Income", amt))
		}
	case types.EventConstructionStarted, types.EventConstructionComplete:
		if cost := num(d["cost"]); cost != 0 {
			out = append(out, tx("Construction", -math.Abs(cost)))
		}
	case types.EventResearchComplete:
		if cost := num(d["cost"]); cost != 0 {
			out = append(out, tx("Research", -math.Abs(cost)))
		}
	case types.EventUnitRecruited:
		if cost := num(d["cost"]); cost != 0 {
			out = append(out, tx("Recruitment", -math.Abs(cost)))
		}
	case types.EventResourceTransaction:
		if amt := num(d["amount"]); amt != 0 {
			out = append(out, tx(str(d["category"]), amt))
		}
	}
	return out
}

// battleRecord builds a Battle and its per-faction performance rows from a
// combat summary. The summary may sit under "summary" or be the payload
// itself.
func battleRecord(key types.RunKey, turn int, data map[string]any) (store.BattleRecord, bool) {
	summary := mapOf(data["summary"])
	if summary == nil {
		summary = data
	}
	factions := mapOf(summary["factions"])
	if len(factions) == 0 {
		return store.BattleRecord{}, false
	}

	location := firstString(data, "location", "planet", "system")
	if location == "" {
		location = firstString(summary, "location", "planet", "system")
	}
	if location == "" {
		location = "unknown"
	}
	battleID := firstString(data, "id", "battle_id")
	if battleID == "" {
		battleID = fmt.Sprintf("BATTLE_%d_%s_%s", turn, lastN(key.RunID, 4), location)
	}

	names := make([]string, 0, len(factions))
	for n := range factions {
		names = append(names, n)
	}
	sort.Strings(names)

	var totalDamage float64
	perfs := make([]types.BattlePerformance, 0, len(names))
	for _, name := range names {
		f := mapOf(factions[name])
		damage, _ := firstNumber(f, "damage", "damage_dealt")
		losses, _ := firstNumber(f, "losses", "units_lost")
		lost, ok := firstNumber(f, "resources_lost")
		if !ok {
			lost = losses
		}
		force := mapOf(f["force"])
		if force == nil {
			force = mapOf(f["composition"])
		}
		var forceSize float64
		for _, c := range force {
			forceSize += num(c)
		}
		attrition := 0.0
		if forceSize > 0 {
			attrition = losses / forceSize
		}
		totalDamage += damage
		perfs = append(perfs, types.BattlePerformance{
			Universe:                 key.Universe,
			BatchID:                  key.BatchID,
			RunID:                    key.RunID,
			BattleID:                 battleID,
			Turn:                     turn,
			Faction:                  name,
			DamageDealt:              damage,
			ResourcesLost:            lost,
			CombatEffectivenessRatio: damage / math.Max(lost, minResourcesLost),
			ForceCompositionJSON:     encode(force),
			AttritionRate:            attrition,
		})
	}

	rounds, _ := firstNumber(summary, "total_rounds", "rounds")
	kills, _ := firstNumber(summary, "total_kills", "units_destroyed")
	return store.BattleRecord{
		Battle: types.Battle{
			Universe:       key.Universe,
			BatchID:        key.BatchID,
			RunID:          key.RunID,
			Turn:           turn,
			Location:       location,
			BattleID:       battleID,
			Factions:       strings.Join(names, ","),
			Winner:         str(summary["winner"]),
			Rounds:         int(rounds),
			TotalDamage:    totalDamage,
			UnitsDestroyed: int(kills),
			DataJSON:       encode(data),
		},
		Performances: perfs,
	}, true
}

// snapshot maps a faction-stats payload onto the snapshot columns. Values
// are looked up in the themed sub-objects first, then at the top level.
func snapshot(key types.RunKey, turn int, faction string, d map[string]any) types.FactionSnapshot {
	eco := mapOf(d["economy"])
	mil := mapOf(d["military"])
	terr := mapOf(d["territory"])
	deltas := mapOf(d["deltas"])
	cons := mapOf(d["construction_activity"])
	res := mapOf(d["research"])
	in := func(s ...map[string]any) []map[string]any { return s }

	gross := pick(d, in(eco), "gross_income", "income")
	upkeep := pick(d, in(eco), "upkeep_total", "upkeep")
	net, ok := firstNumber(eco, "net_profit")
	if !ok {
		if net, ok = firstNumber(d, "net_profit"); !ok {
			net = gross - upkeep
		}
	}

	return types.FactionSnapshot{
		Universe:               key.Universe,
		BatchID:                key.BatchID,
		RunID:                  key.RunID,
		Turn:                   turn,
		Faction:                faction,
		Requisition:            pick(d, in(eco, deltas), "requisition"),
		Promethium:             pick(d, in(eco), "promethium"),
		GrossIncome:            gross,
		UpkeepTotal:            upkeep,
		NetProfit:              net,
		ResearchPoints:         pick(d, in(res, eco), "research_points", "rp"),
		IdleConstructionSlots:  int(pick(d, in(cons, eco), "idle_construction_slots", "idle_slots")),
		IdleResearchSlots:      int(pick(d, in(res, cons), "idle_research_slots")),
		ConstructionEfficiency: pick(d, in(cons, eco), "construction_efficiency", "efficiency"),
		FleetsCount:            int(pick(d, in(mil), "fleets_count", "fleets")),
		UnitsRecruited:         int(pick(d, in(mil, deltas), "units_recruited", "recruited")),
		UnitsLost:              int(pick(d, in(mil, deltas), "units_lost", "losses")),
		BattlesFought:          int(pick(d, in(mil), "battles_fought")),
		BattlesWon:             int(pick(d, in(mil), "battles_won")),
		DamageDealt:            pick(d, in(mil), "damage_dealt"),
		PlanetsControlled:      int(pick(d, in(terr), "planets_controlled", "planets")),
		DataJSON:               encode(d),
	}
}

func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
