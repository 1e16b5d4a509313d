package store

import (
	"context"
	"fmt"
)

// Vacuum rebuilds the database file. It holds the write lock for its
// duration.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// RebuildFullText regenerates the keyword index from the events table.
func (s *Store) RebuildFullText(ctx context.Context) error {
	if !s.fullText {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT INTO events_fts(events_fts) VALUES ('rebuild')"); err != nil {
		return fmt.Errorf("rebuild full-text index: %w", err)
	}
	return nil
}

// Analyze refreshes the planner statistics.
func (s *Store) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check. A healthy database reports a
// single "ok" line.
func (s *Store) IntegrityCheck(ctx context.Context) ([]string, error) {
	var lines []string
	if err := s.db.SelectContext(ctx, &lines, "PRAGMA integrity_check"); err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	return lines, nil
}
