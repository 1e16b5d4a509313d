package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// ErrEmptyLine is returned for blank lines, which carry nothing to store.
var ErrEmptyLine = errors.New("empty line")

// LineErrorKind classifies why a line was not a structured event.
type LineErrorKind string

// LineErrorKind values.
const (
	KindNotJSON     LineErrorKind = "not_json"
	KindNoEventType LineErrorKind = "no_event_type"
	KindBadField    LineErrorKind = "bad_field"
)

// LineError describes a line that could not be read as a structured event.
type LineError struct {
	Line string
	Kind LineErrorKind
	Err  error
}

func (e *LineError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %q", e.Kind, e.Err, line)
	}
	return fmt.Sprintf("%s: %q", e.Kind, line)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseLine reads one structured event. Three shapes are accepted: a JSON
// object with a top-level event_type, an object whose "context" or "extra"
// member carries the event, and an object whose "message" string is itself
// such an object.
func ParseLine(line string) (types.RawEvent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return types.RawEvent{}, ErrEmptyLine
	}
	if line[0] != '{' {
		return types.RawEvent{}, &LineError{Line: line, Kind: KindNotJSON}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return types.RawEvent{}, &LineError{Line: line, Kind: KindNotJSON, Err: err}
	}
	ev, err := fromObject(obj)
	if err != nil {
		return types.RawEvent{}, &LineError{Line: line, Kind: KindBadField, Err: err}
	}
	if ev.EventType != "" {
		return ev, nil
	}

	for _, wrapper := range []string{"context", "extra"} {
		inner, ok := obj[wrapper].(map[string]any)
		if !ok || str(inner["event_type"]) == "" {
			continue
		}
		nested, err := fromObject(inner)
		if err != nil {
			return types.RawEvent{}, &LineError{Line: line, Kind: KindBadField, Err: err}
		}
		inheritEnvelope(&nested, obj)
		return nested, nil
	}

	if msg, ok := obj["message"].(string); ok && strings.HasPrefix(strings.TrimSpace(msg), "{") {
		var inner map[string]any
		if json.Unmarshal([]byte(msg), &inner) == nil && str(inner["event_type"]) != "" {
			nested, err := fromObject(inner)
			if err != nil {
				return types.RawEvent{}, &LineError{Line: line, Kind: KindBadField, Err: err}
			}
			inheritEnvelope(&nested, obj)
			return nested, nil
		}
	}

	return types.RawEvent{}, &LineError{Line: line, Kind: KindNoEventType}
}

func fromObject(obj map[string]any) (types.RawEvent, error) {
	ev := types.RawEvent{
		Timestamp:     str(obj["timestamp"]),
		Category:      str(obj["category"]),
		EventType:     str(obj["event_type"]),
		Faction:       str(obj["faction"]),
		TraceID:       str(obj["trace_id"]),
		ParentTraceID: str(obj["parent_trace_id"]),
	}
	if t, ok := obj["turn"]; ok && t != nil {
		n, ok := number(t)
		if !ok {
			return ev, fmt.Errorf("turn %v is not a number", t)
		}
		ev.Turn = int(n)
	}
	switch d := obj["data"].(type) {
	case map[string]any:
		ev.Data = d
	case nil:
		ev.Data = map[string]any{}
	default:
		ev.Data = map[string]any{"value": d}
	}
	return ev, nil
}

// inheritEnvelope fills fields the nested record left empty from the outer
// log record.
func inheritEnvelope(ev *types.RawEvent, outer map[string]any) {
	if ev.Timestamp == "" {
		ev.Timestamp = str(outer["timestamp"])
	}
	if ev.Turn == 0 {
		if n, ok := number(outer["turn"]); ok {
			ev.Turn = int(n)
		}
	}
	if ev.Faction == "" {
		ev.Faction = str(outer["faction"])
	}
}

var turnMarker = regexp.MustCompile(`(?i)\bturn[\s:#_]*(\d+)\b`)

// LogParser reads a consolidated campaign log in hybrid mode. It remembers
// the most recent turn so unstructured lines are stamped with the turn they
// were written in.
type LogParser struct {
	turn int
}

// Turn returns the turn the parser is currently in.
func (p *LogParser) Turn() int { return p.turn }

// Parse returns the event for line. When the line is not a structured event
// the error is a *LineError and the returned event is the opaque text-log
// fallback, which callers should still store. Blank lines return
// ErrEmptyLine and no event.
func (p *LogParser) Parse(line string) (types.RawEvent, error) {
	ev, err := ParseLine(line)
	if err == nil {
		if ev.Turn > p.turn {
			p.turn = ev.Turn
		}
		return ev, nil
	}
	if errors.Is(err, ErrEmptyLine) {
		return types.RawEvent{}, err
	}
	raw := strings.TrimSpace(line)
	if m := turnMarker.FindStringSubmatch(raw); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil {
			p.turn = n
		}
	}
	return TextEvent(raw, p.turn), err
}

// TextEvent wraps an unstructured line as an opaque text-log event.
func TextEvent(line string, turn int) types.RawEvent {
	return types.RawEvent{
		Turn:      turn,
		Category:  types.CategoryTextLog,
		EventType: types.EventRawLog,
		Data:      map[string]any{"message": line},
	}
}
