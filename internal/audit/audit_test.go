package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestOpenDisabledByEnv verifies the disable switch yields a silent
// logger instead of an error.
func TestOpenDisabledByEnv(t *testing.T) {
	t.Setenv(EnvLogDisable, "true")
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Path() != "" {
		t.Fatalf("Path() = %q, want empty when disabled", l.Path())
	}
	l.RequestCompleted(Record{Tool: "call_api"}) // must not panic
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestRequestCompletedWritesJSONLine verifies the audit line lands in
// the file with the identifying fields.
func TestRequestCompletedWritesJSONLine(t *testing.T) {
	t.Setenv(EnvLogDisable, "")
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.RequestCompleted(Record{
		RequestID:   "req-1",
		Tool:        "call_api",
		OperationID: "conversationsGetById",
		Duration:    42 * time.Millisecond,
		Outcome:     "success",
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	for _, want := range []string{"request completed", "req-1", "call_api", "conversationsGetById", "success"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
}

// TestNilLoggerIsSafe verifies a nil audit logger swallows records, so
// callers never branch on whether auditing is configured.
func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.RequestCompleted(Record{Tool: "call_api"})
	if l.Path() != "" {
		t.Fatal("nil logger has a path")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
