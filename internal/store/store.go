// Package store persists simulation telemetry in an embedded SQLite database
// and serves the parameterized read queries used by dashboards and analytics.
//
// A single Store is shared by every writer and reader in the process. Writes
// are serialized through one mutex; reads run concurrently under SQLite's WAL
// isolation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Cache memoizes read query results. Implementations must be safe for
// concurrent use.
type Cache interface {
	Lookup(ctx context.Context, query string, args []any, dest any) bool
	Remember(ctx context.Context, query string, args []any, value any)
	Invalidate(ctx context.Context)
}

// Store is the SQLite-backed telemetry index.
type Store struct {
	db       *sqlx.DB
	writeMu  sync.Mutex
	fullText bool
	cache    Cache
	profiler *Profiler
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCache enables result caching for read queries.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithProfiler records the plan and duration of every read query.
func WithProfiler(p *Profiler) Option {
	return func(s *Store) { s.profiler = p }
}

// Open opens or creates the database at path, creates the schema and applies
// pending column migrations.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	fullText, err := EnsureSchema(db, s.logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.fullText = fullText
	Migrate(db, s.logger)

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for maintenance tooling and tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// FullText reports whether keyword search uses the FTS5 index.
func (s *Store) FullText() bool {
	return s.fullText
}

// write runs fn in a transaction while holding the write lock and clears the
// query cache after a successful commit.
func (s *Store) write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	return nil
}

func (s *Store) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	defer s.profiler.track(ctx, s.db, query, args)()
	if err := s.db.SelectContext(ctx, dest, query, args...); err != nil {
		return &QueryError{Query: query, Params: len(args), Err: err}
	}
	return nil
}

func (s *Store) getRow(ctx context.Context, dest any, query string, args ...any) error {
	defer s.profiler.track(ctx, s.db, query, args)()
	err := s.db.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return &QueryError{Query: query, Params: len(args), Err: err}
	}
	return nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	defer s.profiler.track(ctx, s.db, query, args)()
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Query: query, Params: len(args), Err: err}
	}
	return rows, nil
}

// cached serves a read through the store cache when one is configured.
func cached[T any](ctx context.Context, s *Store, query string, args []any, load func() (T, error)) (T, error) {
	var out T
	if s.cache != nil && s.cache.Lookup(ctx, query, args, &out) {
		return out, nil
	}
	out, err := load()
	if err != nil {
		return out, err
	}
	if s.cache != nil {
		s.cache.Remember(ctx, query, args, out)
	}
	return out, nil
}
