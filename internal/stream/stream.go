// Package stream follows the telemetry of a live run. A Streamer polls the
// run directory for the newest telemetry file, tails it, and feeds every
// complete line through the hybrid parser into the indexer and then the
// alert engine.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/indexer"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/tailer"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Defaults applied by New.
const (
	DefaultInterval = 500 * time.Millisecond
	DefaultPattern  = "telemetry_*.json"
)

// Fallback logs tailed when no telemetry file matches, in preference order.
var fallbackLogs = []string{"full_campaign_log.txt", "campaign.json"}

// Indexer persists one event.
type Indexer interface {
	IndexEvent(ctx context.Context, key types.RunKey, raw types.RawEvent) (types.Event, error)
}

// Evaluator checks a persisted event against alert rules.
type Evaluator interface {
	ProcessEvent(ctx context.Context, ev types.Event) []types.Alert
}

// Config selects what a Streamer follows.
type Config struct {
	Dir       string
	Key       types.RunKey
	Pattern   string
	Interval  time.Duration
	SeekToEnd bool
}

// Streamer tails the newest telemetry file of one run directory.
type Streamer struct {
	cfg       Config
	indexer   Indexer
	evaluator Evaluator
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current string
	lines   atomic.Int64
	alerts  atomic.Int64
}

// New creates a Streamer. evaluator may be nil.
func New(cfg Config, ix Indexer, evaluator Evaluator, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	return &Streamer{
		cfg:       cfg,
		indexer:   ix,
		evaluator: evaluator,
		logger:    logger.With("run", cfg.Key.RunID),
	}
}

// Current returns the file being tailed, or "" before one is found.
func (s *Streamer) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Lines returns how many lines have been indexed.
func (s *Streamer) Lines() int64 { return s.lines.Load() }

// Alerts returns how many alerts the evaluator raised on streamed events.
func (s *Streamer) Alerts() int64 { return s.alerts.Load() }

// Start runs the polling loop in the background until Stop is called or ctx
// is cancelled.
func (s *Streamer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for it to exit, giving up when ctx ends.
func (s *Streamer) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("streamer stopped")
	case <-ctx.Done():
		s.logger.Warn("streamer stop timed out")
	}
}

// follow is the loop-owned tailing state.
type follow struct {
	t      *tailer.Tailer
	parser indexer.LogParser
	opened bool
}

// Run polls until ctx is cancelled. It exits within one interval of
// cancellation.
func (s *Streamer) Run(ctx context.Context) {
	s.logger.Info("streamer started", "dir", s.cfg.Dir, "interval", s.cfg.Interval)

	var f follow
	defer func() {
		if f.t != nil {
			_ = f.t.Close()
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.poll(ctx, &f)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("streamer stopping", "lines", s.lines.Load())
			return
		case <-ticker.C:
			s.poll(ctx, &f)
		}
	}
}

func (s *Streamer) poll(ctx context.Context, f *follow) {
	path := s.candidate()
	if path == "" {
		s.logger.Debug("no telemetry file yet", "dir", s.cfg.Dir)
		return
	}
	if f.t == nil || f.t.Path() != path {
		if !s.switchTo(path, f) {
			return
		}
	}

	s.drain(ctx, f)

	if _, err := f.t.CheckRotation(); err != nil {
		s.logger.Warn("failed to check rotation", "file", path, "error", err)
	}
}

// switchTo starts tailing path. Only the first file honours SeekToEnd; a
// file that supersedes it is read from the start.
func (s *Streamer) switchTo(path string, f *follow) bool {
	t := tailer.New(path, s.logger)
	if err := t.Open(!f.opened && s.cfg.SeekToEnd); err != nil {
		s.logger.Warn("failed to open telemetry file", "file", path, "error", err)
		return false
	}
	if f.t != nil {
		s.logger.Info("switching to newer telemetry file", "from", f.t.Path(), "to", path)
		_ = f.t.Close()
	}
	f.t = t
	f.opened = true

	s.mu.Lock()
	s.current = path
	s.mu.Unlock()
	return true
}

// drain indexes every complete line. An indexing failure stops the pass
// without committing the line, so the next poll retries it.
func (s *Streamer) drain(ctx context.Context, f *follow) {
	for line := range f.t.ReadLines() {
		if ctx.Err() != nil {
			return
		}
		raw, err := f.parser.Parse(line)
		var lineErr *indexer.LineError
		if err != nil && !errors.As(err, &lineErr) {
			continue
		}
		ev, err := s.indexer.IndexEvent(ctx, s.cfg.Key, raw)
		if err != nil {
			s.logger.Warn("failed to index line, retrying next poll",
				"file", f.t.Path(), "offset", f.t.Offset(), "error", err)
			return
		}
		s.lines.Add(1)
		if s.evaluator != nil {
			s.alerts.Add(int64(len(s.evaluator.ProcessEvent(ctx, ev))))
		}
	}
	if err := f.t.Err(); err != nil {
		s.logger.Warn("failed to read telemetry file", "file", f.t.Path(), "error", err)
	}
}

// candidate returns the newest file matching the pattern, falling back to
// the consolidated log.
func (s *Streamer) candidate() string {
	matches, _ := filepath.Glob(filepath.Join(s.cfg.Dir, s.cfg.Pattern))
	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && m > best) {
			best, bestMod = m, mod
		}
	}
	if best != "" {
		return best
	}
	for _, name := range fallbackLogs {
		p := filepath.Join(s.cfg.Dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
