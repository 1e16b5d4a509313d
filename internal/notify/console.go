package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// ConsoleSink writes alerts to a terminal with color-coded severity.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink creates a console sink writing to w, or stdout when w is
// nil.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

var severityColors = map[types.Severity]*color.Color{
	types.SeverityInfo:     color.New(color.FgBlue),
	types.SeverityWarning:  color.New(color.FgYellow),
	types.SeverityError:    color.New(color.FgRed),
	types.SeverityCritical: color.New(color.FgHiWhite, color.BgRed),
}

// Send writes one line per alert.
func (s *ConsoleSink) Send(_ context.Context, alert types.Alert) error {
	prefix := fmt.Sprintf("[ALERT] [%s]", strings.ToUpper(alert.Severity.String()))
	if c, ok := severityColors[alert.Severity]; ok {
		prefix = c.Sprint(prefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %s: %s\n", prefix, alert.RuleName, alert.Message)
	return err
}
