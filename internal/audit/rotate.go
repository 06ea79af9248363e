package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// rotatingWriter appends to <dir>/unblu-mcp.log and, on the first
// write of a new UTC day, renames the previous file to
// unblu-mcp.log.YYYY-MM-DD and prunes rotated files older than the
// retention window.
type rotatingWriter struct {
	dir  string
	path string

	mu   sync.Mutex
	file *os.File
	day  string // UTC date of the last write

	now func() time.Time // test seam
}

func newRotatingWriter(dir string) (*rotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	w := &rotatingWriter{
		dir:  dir,
		path: filepath.Join(dir, logFileName),
		now:  time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.day = w.today()
	// Lines already in the file may be from an earlier day.
	if info, err := os.Stat(w.path); err == nil && info.Size() > 0 {
		w.day = info.ModTime().UTC().Format(dateLayout)
	}
	return w, nil
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", w.path, err)
	}
	w.file = f
	return nil
}

func (w *rotatingWriter) today() string {
	return w.now().UTC().Format(dateLayout)
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if today := w.today(); today != w.day {
		w.rotate()
		w.day = today
	}
	return w.file.Write(p)
}

// rotate moves the current file aside under the day it was written and
// starts a fresh one. Failures fall back to writing into the existing
// file: losing rotation is better than losing the log line.
func (w *rotatingWriter) rotate() {
	w.file.Close() //nolint:errcheck
	rotated := w.path + "." + w.day
	os.Rename(w.path, rotated) //nolint:errcheck
	if err := w.open(); err != nil {
		// Last resort: reopen whatever is there.
		w.file, _ = os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	w.prune()
}

// prune removes rotated files older than retentionDays.
func (w *rotatingWriter) prune() {
	cutoff := w.now().UTC().AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	prefix := logFileName + "."
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		day, err := time.Parse(dateLayout, strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(w.dir, name)) //nolint:errcheck
		}
	}
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
