package testutil

import (
	"os"
	"strings"
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForLines polls until the file at path holds at least n non-empty lines
// and returns them.
func WaitForLines(t *testing.T, path string, n int, timeout time.Duration) []string {
	t.Helper()
	var lines []string
	WaitFor(t, timeout, func() bool {
		raw, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		lines = lines[:0]
		for _, l := range strings.Split(string(raw), "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		return len(lines) >= n
	}, "lines written to "+path)
	return lines
}
