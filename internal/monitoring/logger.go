package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marketwatch-trading/backend/internal/universe"
)

// SystemLogWriter appends structured JSON records to a universe-scoped
// system log with size-based rotation. Records carrying a different
// universe are rejected.
type SystemLogWriter struct {
	u        universe.Universe
	path     string
	maxBytes int64

	mu sync.Mutex
}

// NewSystemLogWriter creates a writer for logs/<u>/system/<filename>.
// maxMB <= 0 disables rotation.
func NewSystemLogWriter(u universe.Universe, baseDir, filename string, maxMB float64) *SystemLogWriter {
	var maxBytes int64
	if maxMB > 0 {
		maxBytes = int64(maxMB * 1024 * 1024)
	}
	return &SystemLogWriter{
		u:        u,
		path:     filepath.Join(baseDir, universe.SystemLogPath(u, filename)),
		maxBytes: maxBytes,
	}
}

// Path returns the log file path.
func (w *SystemLogWriter) Path() string { return w.path }

// Write appends one record, stamping the writer's universe when absent.
func (w *SystemLogWriter) Write(record map[string]any) error {
	if u, ok := record["universe"]; ok {
		if s, _ := u.(string); s != "" && s != w.u.String() {
			return fmt.Errorf("system log universe mismatch: got %q, expected %q", s, w.u)
		}
	}
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	out["universe"] = w.u.String()

	line, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode system log record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create system log dir: %w", err)
	}
	if err := w.rotateIfNeeded(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open system log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append system log: %w", err)
	}
	return nil
}

func (w *SystemLogWriter) rotateIfNeeded() error {
	if w.maxBytes == 0 {
		return nil
	}
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() <= w.maxBytes {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102_150405"))
	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("rotate system log: %w", err)
	}
	return nil
}
