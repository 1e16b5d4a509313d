// Package indexer ingests simulation telemetry into the store. It handles
// single real-time events from the stream tailer and one-shot crawls of run
// and batch directories.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Store is the subset of the telemetry store the indexer writes through.
type Store interface {
	WriteBatch(ctx context.Context, b store.Batch) (store.WriteResult, error)
	UpsertRun(ctx context.Context, run types.Run) error
	EnsureRun(ctx context.Context, key types.RunKey) error
	RunExists(ctx context.Context, key types.RunKey) (bool, error)
	IndexedTurns(ctx context.Context, key types.RunKey) ([]int, error)
}

// Default crawl settings.
const (
	defaultWorkers   = 2
	defaultChunkSize = 500
)

// Indexer routes telemetry into the store.
type Indexer struct {
	store     Store
	logger    *slog.Logger
	workers   int
	chunkSize int

	mu    sync.Mutex
	known map[types.RunKey]bool
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the indexer logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// WithWorkers sets how many runs IndexBatch crawls in parallel.
func WithWorkers(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// WithChunkSize sets how many events are written per transaction during
// file ingestion.
func WithChunkSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.chunkSize = n
		}
	}
}

// New creates an Indexer writing to st.
func New(st Store, opts ...Option) *Indexer {
	ix := &Indexer{
		store:     st,
		logger:    slog.Default(),
		workers:   defaultWorkers,
		chunkSize: defaultChunkSize,
		known:     make(map[types.RunKey]bool),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// IndexEvent persists one real-time event and returns its normalized form.
// Events are always appended; the run row is created on its first event.
func (ix *Indexer) IndexEvent(ctx context.Context, key types.RunKey, raw types.RawEvent) (types.Event, error) {
	if err := ix.ensureRun(ctx, key); err != nil {
		return types.Event{}, err
	}
	b := Route(key, raw)
	res, err := ix.store.WriteBatch(ctx, b)
	if err != nil {
		return types.Event{}, fmt.Errorf("indexing %s event: %w", raw.EventType, err)
	}
	ev := b.Events[0]
	if len(res.EventIDs) > 0 {
		ev.ID = res.EventIDs[0]
	}
	metrics.EventsIndexed.Add(ctx, 1)
	return ev, nil
}

func (ix *Indexer) ensureRun(ctx context.Context, key types.RunKey) error {
	ix.mu.Lock()
	seen := ix.known[key]
	ix.mu.Unlock()
	if seen {
		return nil
	}
	if err := ix.store.EnsureRun(ctx, key); err != nil {
		return fmt.Errorf("registering run %s: %w", key.RunID, err)
	}
	ix.mu.Lock()
	ix.known[key] = true
	ix.mu.Unlock()
	return nil
}

// writeEvents routes and persists events in chunks, returning how many
// were written.
func (ix *Indexer) writeEvents(ctx context.Context, key types.RunKey, raws []types.RawEvent) (int, error) {
	written := 0
	for start := 0; start < len(raws); start += ix.chunkSize {
		end := min(start+ix.chunkSize, len(raws))
		var b store.Batch
		for _, raw := range raws[start:end] {
			b.Append(Route(key, raw))
		}
		res, err := ix.store.WriteBatch(ctx, b)
		if err != nil {
			return written, err
		}
		written += len(res.EventIDs)
	}
	if written > 0 {
		metrics.EventsIndexed.Add(ctx, int64(written))
	}
	return written, nil
}
