package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// AlertLogRecord is one line of the alert log.
type AlertLogRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	ID      string         `json:"id"`
	Rule    string         `json:"rule"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

// FileSink appends alerts to an alert log, one AlertLogRecord per line.
// The file is reopened for each write so external rotation is picked up.
type FileSink struct {
	path string
	mu   sync.Mutex
	buf  bytes.Buffer
}

// NewFileSink checks that the log can be created at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating alert log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening alert log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("opening alert log: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Name returns the sink identifier.
func (s *FileSink) Name() string { return "file" }

// Send appends the alert to the log.
func (s *FileSink) Send(_ context.Context, alert types.Alert) error {
	rec := AlertLogRecord{
		Time:    alert.Timestamp,
		Level:   strings.ToUpper(alert.Severity.String()),
		ID:      alert.ID,
		Rule:    alert.RuleName,
		Message: alert.Message,
		Context: alert.Context,
	}
	if rec.Context == nil {
		rec.Context = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := json.NewEncoder(&s.buf).Encode(rec); err != nil {
		return fmt.Errorf("encoding alert %s: %w", alert.ID, err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening alert log: %w", err)
	}
	_, err = f.Write(s.buf.Bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
