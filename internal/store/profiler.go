package store

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultProfileSamples is the number of samples a Profiler keeps.
const DefaultProfileSamples = 200

// Sample is one profiled query execution.
type Sample struct {
	Query    string        `json:"query"`
	Params   int           `json:"params"`
	Duration time.Duration `json:"duration"`
	Plan     []string      `json:"plan"`
	At       time.Time     `json:"at"`
}

// Profiler keeps the most recent query samples in a ring buffer.
type Profiler struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool
}

// NewProfiler returns a profiler retaining up to capacity samples.
func NewProfiler(capacity int) *Profiler {
	if capacity <= 0 {
		capacity = DefaultProfileSamples
	}
	return &Profiler{samples: make([]Sample, capacity)}
}

// track starts timing a query; the returned func records the sample. A nil
// profiler returns a no-op.
func (p *Profiler) track(ctx context.Context, db *sqlx.DB, query string, args []any) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		p.record(Sample{
			Query:    query,
			Params:   len(args),
			Duration: elapsed,
			Plan:     explain(ctx, db, query, args),
			At:       start,
		})
	}
}

func (p *Profiler) record(s Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples[p.next] = s
	p.next = (p.next + 1) % len(p.samples)
	if p.next == 0 {
		p.full = true
	}
}

// Samples returns the retained samples, oldest first.
func (p *Profiler) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.full {
		return append([]Sample(nil), p.samples[:p.next]...)
	}
	out := make([]Sample, 0, len(p.samples))
	out = append(out, p.samples[p.next:]...)
	return append(out, p.samples[:p.next]...)
}

// Reset drops all samples.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.samples)
	p.next = 0
	p.full = false
}

// explain returns the detail column of EXPLAIN QUERY PLAN. Plans are best
// effort; failures yield nil.
func explain(ctx context.Context, db *sqlx.DB, query string, args []any) []string {
	rows, err := db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var plan []string
	for rows.Next() {
		var id, parent, notused int
		var detail string
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			return plan
		}
		plan = append(plan, detail)
	}
	return plan
}

// ProfileSamples returns the profiler samples, or nil when profiling is off.
func (s *Store) ProfileSamples() []Sample {
	if s.profiler == nil {
		return nil
	}
	return s.profiler.Samples()
}
