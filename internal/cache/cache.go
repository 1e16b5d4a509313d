// Package cache memoizes read query results for the telemetry store. Results
// are keyed by a hash of the normalized query text and its parameters and
// held in an interchangeable Backend.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
)

// Backend stores encoded query results.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) error
	Name() string
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// QueryCache adapts a Backend to the store's result cache. Backend errors
// are logged and treated as misses.
type QueryCache struct {
	backend Backend
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache over backend.
func New(backend Backend, logger *slog.Logger) *QueryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryCache{backend: backend, logger: logger}
}

// Key hashes the normalized query text and the JSON encoding of args.
func Key(query string, args []any) string {
	enc, err := json.Marshal(args)
	if err != nil {
		enc = []byte(fmt.Sprint(args...))
	}
	buf := make([]byte, 0, len(query)+len(enc)+1)
	buf = append(buf, strings.Join(strings.Fields(query), " ")...)
	buf = append(buf, 0)
	buf = append(buf, enc...)
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Lookup decodes a cached result into dest and reports whether it was found.
func (c *QueryCache) Lookup(ctx context.Context, query string, args []any, dest any) bool {
	raw, ok, err := c.backend.Get(ctx, Key(query, args))
	if err != nil {
		c.logger.Warn("cache lookup failed", "backend", c.backend.Name(), "error", err)
	}
	if !ok || err != nil {
		c.misses.Add(1)
		metrics.CacheMisses.Add(ctx, 1)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "backend", c.backend.Name(), "error", err)
		c.misses.Add(1)
		metrics.CacheMisses.Add(ctx, 1)
		return false
	}
	c.hits.Add(1)
	metrics.CacheHits.Add(ctx, 1)
	return true
}

// Remember stores value under the key of query and args.
func (c *QueryCache) Remember(ctx context.Context, query string, args []any, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cannot encode query result for cache", "error", err)
		return
	}
	if err := c.backend.Set(ctx, Key(query, args), raw); err != nil {
		c.logger.Warn("cache store failed", "backend", c.backend.Name(), "error", err)
	}
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) {
	if err := c.backend.Clear(ctx); err != nil {
		c.logger.Warn("cache invalidation failed", "backend", c.backend.Name(), "error", err)
	}
}

// Stats returns the hit and miss counters.
func (c *QueryCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Backend: c.backend.Name(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
