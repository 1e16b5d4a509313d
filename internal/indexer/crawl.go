package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Report summarizes one IndexRun call. Problems collects per-file and
// per-line failures that were logged and skipped.
type Report struct {
	Run            types.RunKey
	FirstPass      bool
	EventsIndexed  int
	TextLines      int
	TurnsIndexed   []int
	BattlesIndexed int
	Problems       []error
}

func (r *Report) problem(err error) {
	r.Problems = append(r.Problems, err)
}

var (
	turnDirPattern     = regexp.MustCompile(`^turn_(\d+)$`)
	flatFactionPattern = regexp.MustCompile(`^(.+)_turn_(\d+)\.json$`)
	flatBattlePattern  = regexp.MustCompile(`^Combat_T(\d+).*\.json$`)
)

const maxLineSize = 16 << 20

// RunKeyFor derives the identity of the run stored in dir: the run id is the
// directory name and the batch id is the name of its parent.
func RunKeyFor(dir, universe string) types.RunKey {
	dir = filepath.Clean(dir)
	return types.RunKey{
		Universe: universe,
		BatchID:  filepath.Base(filepath.Dir(dir)),
		RunID:    filepath.Base(dir),
	}
}

// IndexRun crawls one run directory. The first call for a run ingests its
// telemetry files, consolidated log and manifest; later calls only parse
// turns that have no faction or battle rows yet. A changed consolidated log
// is not re-read once the run exists.
func (ix *Indexer) IndexRun(ctx context.Context, dir, universe string) (Report, error) {
	key := RunKeyFor(dir, universe)
	rep := Report{Run: key}

	if _, err := os.Stat(dir); err != nil {
		return rep, fmt.Errorf("reading run directory: %w", err)
	}
	exists, err := ix.store.RunExists(ctx, key)
	if err != nil {
		return rep, fmt.Errorf("checking run %s: %w", key.RunID, err)
	}
	turns, err := ix.store.IndexedTurns(ctx, key)
	if err != nil {
		return rep, fmt.Errorf("listing indexed turns of %s: %w", key.RunID, err)
	}
	have := make(map[int]bool, len(turns))
	for _, t := range turns {
		have[t] = true
	}

	if !exists {
		rep.FirstPass = true
		ix.indexRunFiles(ctx, key, dir, &rep)
	}
	ix.indexTurns(ctx, key, dir, have, &rep)

	run := readManifest(dir, key, &rep)
	if err := ix.store.UpsertRun(ctx, run); err != nil {
		return rep, fmt.Errorf("saving run %s: %w", key.RunID, err)
	}
	ix.mu.Lock()
	ix.known[key] = true
	ix.mu.Unlock()

	metrics.RunsIndexed.Add(ctx, 1)
	metrics.TurnsIndexed.Add(ctx, int64(len(rep.TurnsIndexed)))
	for _, p := range rep.Problems {
		ix.logger.Warn("skipped input while indexing run", "run", key.RunID, "error", p)
	}
	ix.logger.Info("indexed run",
		"universe", key.Universe, "batch", key.BatchID, "run", key.RunID,
		"first_pass", rep.FirstPass, "events", rep.EventsIndexed, "turns", len(rep.TurnsIndexed),
		"problems", len(rep.Problems))
	return rep, nil
}

// indexRunFiles ingests the one-time, run-level files.
func (ix *Indexer) indexRunFiles(ctx context.Context, key types.RunKey, dir string, rep *Report) {
	var files []string
	for _, pattern := range []string{"telemetry_*.json", "telemetry_*.json.gz"} {
		m, _ := filepath.Glob(filepath.Join(dir, pattern))
		files = append(files, m...)
	}
	sort.Strings(files)
	if p := filepath.Join(dir, "events.json"); fileExists(p) {
		files = append(files, p)
	}
	for _, f := range files {
		ix.indexEventFile(ctx, key, f, rep)
	}

	for _, name := range []string{"full_campaign_log.txt", "campaign.json"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			ix.indexEventFile(ctx, key, p, rep)
			break
		}
	}
}

// indexEventFile ingests a newline-delimited event file in hybrid mode. A
// file holding one JSON array of events is accepted too.
func (ix *Indexer) indexEventFile(ctx context.Context, key types.RunKey, path string, rep *Report) {
	raws, textLines, err := readEvents(path, rep)
	if err != nil {
		rep.problem(fmt.Errorf("%s: %w", filepath.Base(path), err))
		return
	}
	n, err := ix.writeEvents(ctx, key, raws)
	rep.EventsIndexed += n
	rep.TextLines += textLines
	if err != nil {
		rep.problem(fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
}

func readEvents(path string, rep *Report) ([]types.RawEvent, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, 0, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	br := bufio.NewReader(r)

	if first, err := peekNonSpace(br); err == nil && first == '[' {
		var arr []json.RawMessage
		if err := json.NewDecoder(br).Decode(&arr); err != nil {
			return nil, 0, fmt.Errorf("decoding event array: %w", err)
		}
		var out []types.RawEvent
		for _, item := range arr {
			ev, err := ParseLine(string(item))
			if err != nil {
				rep.problem(err)
				metrics.LinesSkipped.Add(context.Background(), 1)
				continue
			}
			out = append(out, ev)
		}
		return out, 0, nil
	}

	var (
		out    []types.RawEvent
		text   int
		parser LogParser
	)
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		ev, err := parser.Parse(sc.Text())
		var le *LineError
		switch {
		case errors.Is(err, ErrEmptyLine):
			continue
		case errors.As(err, &le):
			text++
		case err != nil:
			rep.problem(err)
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return out, text, fmt.Errorf("reading lines: %w", err)
	}
	return out, text, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for i := 1; ; i++ {
		b, err := br.Peek(i)
		if err != nil {
			return 0, err
		}
		c := b[i-1]
		if c != ' ' && c != '\n' && c != '\r' && c != '\t' {
			return c, nil
		}
	}
}

// turnArtifacts collects the per-turn files of one turn.
type turnArtifacts struct {
	factions map[string]string // faction -> file
	battles  []string
}

func (ix *Indexer) indexTurns(ctx context.Context, key types.RunKey, dir string, have map[int]bool, rep *Report) {
	byTurn := map[int]*turnArtifacts{}
	get := func(t int) *turnArtifacts {
		a := byTurn[t]
		if a == nil {
			a = &turnArtifacts{factions: map[string]string{}}
			byTurn[t] = a
		}
		return a
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		rep.problem(err)
		return
	}
	for _, e := range entries {
		m := turnDirPattern.FindStringSubmatch(e.Name())
		if !e.IsDir() || m == nil {
			continue
		}
		t, _ := strconv.Atoi(m[1])
		if have[t] {
			continue
		}
		collectTurnDir(filepath.Join(dir, e.Name()), get(t))
	}

	if matches, _ := filepath.Glob(filepath.Join(dir, "factions", "*_turn_*.json")); len(matches) > 0 {
		for _, p := range matches {
			m := flatFactionPattern.FindStringSubmatch(filepath.Base(p))
			if m == nil {
				continue
			}
			t, _ := strconv.Atoi(m[2])
			if !have[t] {
				get(t).factions[m[1]] = p
			}
		}
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "battles", "Combat_T*.json")); len(matches) > 0 {
		for _, p := range matches {
			m := flatBattlePattern.FindStringSubmatch(filepath.Base(p))
			if m == nil {
				continue
			}
			t, _ := strconv.Atoi(m[1])
			if !have[t] {
				get(t).battles = append(get(t).battles, p)
			}
		}
	}

	turns := make([]int, 0, len(byTurn))
	for t := range byTurn {
		turns = append(turns, t)
	}
	sort.Ints(turns)
	for _, t := range turns {
		if err := ctx.Err(); err != nil {
			rep.problem(err)
			return
		}
		ix.indexTurn(ctx, key, t, byTurn[t], rep)
	}
}

func collectTurnDir(turnDir string, a *turnArtifacts) {
	if entries, err := os.ReadDir(filepath.Join(turnDir, "factions")); err == nil {
		for _, e := range entries {
			p := filepath.Join(turnDir, "factions", e.Name())
			switch {
			case e.IsDir() && fileExists(filepath.Join(p, "summary.json")):
				a.factions[e.Name()] = filepath.Join(p, "summary.json")
			case !e.IsDir() && strings.HasSuffix(e.Name(), ".json"):
				a.factions[strings.TrimSuffix(e.Name(), ".json")] = p
			}
		}
	}
	if matches, err := filepath.Glob(filepath.Join(turnDir, "battles", "*.json")); err == nil {
		sort.Strings(matches)
		a.battles = append(a.battles, matches...)
	}
}

// indexTurn writes all artifacts of one turn in a single transaction.
func (ix *Indexer) indexTurn(ctx context.Context, key types.RunKey, turn int, a *turnArtifacts, rep *Report) {
	var b store.Batch

	names := make([]string, 0, len(a.factions))
	for n := range a.factions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		d, err := readJSONObject(a.factions[name])
		if err != nil {
			rep.problem(err)
			continue
		}
		faction := name
		if f := str(d["faction"]); f != "" {
			faction = f
		}
		b.Snapshots = append(b.Snapshots, snapshot(key, turn, faction, d))
	}

	for _, p := range a.battles {
		d, err := readJSONObject(p)
		if err != nil {
			rep.problem(err)
			continue
		}
		if rec, ok := battleRecord(key, turn, d); ok {
			b.Battles = append(b.Battles, rec)
		} else {
			rep.problem(fmt.Errorf("%s: no participating factions", filepath.Base(p)))
		}
	}

	if b.Empty() {
		return
	}
	res, err := ix.store.WriteBatch(ctx, b)
	if err != nil {
		rep.problem(fmt.Errorf("turn %d: %w", turn, err))
		return
	}
	rep.BattlesIndexed += res.BattlesAdded
	rep.TurnsIndexed = append(rep.TurnsIndexed, turn)
}

func readJSONObject(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d map[string]any
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &LineError{Line: filepath.Base(path), Kind: KindNotJSON, Err: err}
	}
	return d, nil
}

// readManifest builds the run row from manifest.json. A missing or broken
// manifest yields a bare row for key.
func readManifest(dir string, key types.RunKey, rep *Report) types.Run {
	run := types.Run{Universe: key.Universe, BatchID: key.BatchID, RunID: key.RunID}
	p := filepath.Join(dir, "manifest.json")
	if !fileExists(p) {
		return run
	}
	m, err := readJSONObject(p)
	if err != nil {
		rep.problem(fmt.Errorf("manifest: %w", err))
		return run
	}
	summary := mapOf(m["summary"])
	run.StartedAt = str(m["started_at"])
	run.FinishedAt = str(m["finished_at"])
	run.Winner = str(summary["winner"])
	run.TurnsTaken = int(num(summary["turns_taken"]))
	if meta, ok := m["metadata"]; ok {
		run.MetadataJSON = encode(meta)
	}
	return run
}

// IndexBatch indexes every run_* directory below dir. The universe is the
// name of the directory containing the batch. Runs are crawled in parallel
// and a failing run never stops the others.
func (ix *Indexer) IndexBatch(ctx context.Context, dir string) ([]Report, error) {
	universe := filepath.Base(filepath.Dir(dir))
	runs, err := filepath.Glob(filepath.Join(dir, "run_*"))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var dirs []string
	for _, r := range runs {
		if info, err := os.Stat(r); err == nil && info.IsDir() {
			dirs = append(dirs, r)
		}
	}
	sort.Strings(dirs)

	reports := make([]Report, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, d := range dirs {
		g.Go(func() error {
			rep, err := ix.IndexRun(gctx, d, universe)
			if err != nil {
				ix.logger.Error("failed to index run", "run", filepath.Base(d), "error", err)
				rep.problem(err)
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
