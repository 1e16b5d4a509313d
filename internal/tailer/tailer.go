// Package tailer follows a growing, append-only telemetry file and yields
// only complete lines. It detects rotation (the file replaced or truncated)
// and restarts from the beginning of the new file.
//
// A Tailer is owned by a single polling goroutine and is not safe for
// concurrent use.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
)

// ErrClosed is reported by Err after ReadLines is used on a closed tailer.
var ErrClosed = errors.New("tailer closed")

// State is the lifecycle state of a Tailer.
type State int

// Tailer states.
const (
	StateClosed State = iota
	StateOpen
	StateReading
	StateWaitingForData
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StateWaitingForData:
		return "waiting_for_data"
	default:
		return "closed"
	}
}

// Tailer reads complete lines from one file.
type Tailer struct {
	path   string
	logger *slog.Logger

	f      *os.File
	info   os.FileInfo
	offset int64
	state  State
	err    error
}

// New returns a closed Tailer for path.
func New(path string, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{path: path, logger: logger}
}

// Path returns the tailed file.
func (t *Tailer) Path() string { return t.path }

// State returns the current lifecycle state.
func (t *Tailer) State() State { return t.state }

// Offset returns the committed read position.
func (t *Tailer) Offset() int64 { return t.offset }

// Err returns the error that ended the last ReadLines pass, if any.
func (t *Tailer) Err() error { return t.err }

// Open opens the file and captures its identity. With seekToEnd only lines
// written after Open are observed; otherwise reading starts at offset 0.
func (t *Tailer) Open(seekToEnd bool) error {
	if t.f != nil {
		_ = t.f.Close()
	}
	f, err := os.Open(t.path)
	if err != nil {
		t.state = StateClosed
		return fmt.Errorf("opening %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		t.state = StateClosed
		return fmt.Errorf("stat %s: %w", t.path, err)
	}
	t.f, t.info, t.offset, t.err = f, info, 0, nil
	if seekToEnd {
		t.offset = info.Size()
	}
	t.state = StateOpen
	return nil
}

// ReadLines yields the complete lines written since the last committed
// offset. Blank lines are skipped. A trailing line without a terminator is
// left unread until a later pass sees its newline. A line is committed once
// the consumer accepts it; breaking out of the loop leaves the current line
// uncommitted so the next pass yields it again. Read failures end the pass
// and are reported by Err.
func (t *Tailer) ReadLines() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.err = nil
		if t.f == nil {
			t.err = ErrClosed
			return
		}
		if _, err := t.f.Seek(t.offset, io.SeekStart); err != nil {
			t.err = fmt.Errorf("seeking %s to %d: %w", t.path, t.offset, err)
			return
		}
		t.state = StateReading
		r := bufio.NewReader(t.f)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				if !errors.Is(err, io.EOF) {
					t.err = fmt.Errorf("reading %s: %w", t.path, err)
				}
				// Partial trailing data stays uncommitted.
				t.state = StateWaitingForData
				return
			}
			next := t.offset + int64(len(line))
			text := strings.TrimRight(line, "\r\n")
			if strings.TrimSpace(text) == "" {
				t.offset = next
				continue
			}
			if !yield(text) {
				t.state = StateOpen
				return
			}
			t.offset = next
		}
	}
}

// CheckRotation reports whether the file at the tailed path was replaced or
// truncated. When it was, the tailer reopens it from offset 0. A path that
// is momentarily missing is not a rotation.
func (t *Tailer) CheckRotation() (bool, error) {
	if t.f == nil {
		return false, ErrClosed
	}
	cur, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", t.path, err)
	}
	if os.SameFile(t.info, cur) && cur.Size() >= t.offset {
		return false, nil
	}

	t.logger.Info("telemetry file rotated, re-reading from start",
		"path", t.path, "offset", t.offset, "size", cur.Size())
	metrics.TailerRotations.Add(context.Background(), 1)
	if err := t.Open(false); err != nil {
		return true, err
	}
	return true, nil
}

// Close releases the file.
func (t *Tailer) Close() error {
	t.state = StateClosed
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
