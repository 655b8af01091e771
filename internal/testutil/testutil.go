// Package testutil provides shared test helpers.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/banshee-data/viewability/internal/monitoring"
)

// TempFile writes content to name inside a fresh temporary directory and
// returns the file's path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// LogCapture collects monitoring.Logf output.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns the formatted lines logged so far.
func (c *LogCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *LogCapture) logf(format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

// CaptureLogs routes monitoring.Logf into a LogCapture until the test ends,
// then restores the previous logger.
func CaptureLogs(t testing.TB) *LogCapture {
	t.Helper()
	prev := monitoring.Logf
	c := &LogCapture{}
	monitoring.SetLogger(c.logf)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return c
}
