// Package runlog provides a file-backed structured logger for indexing
// runs. Degradation paths (sampler downgrade, skipped videos, zero-vector
// substitutions) are recorded here so they stay observable after a run.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Logger writes structured entries to a per-run log file. A nil *Logger is
// valid and discards everything, so callers never need to guard calls.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// New creates a run log file under dir, named by the given tag and the
// current time.
func New(dir, tag string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", tag, timestamp))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{file: file, path: path}, nil
}

// Path returns the log file location, empty for a nil logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) log(level string, message string, details map[string]interface{}) {
	if l == nil || l.file == nil {
		return
	}

	line := fmt.Sprintf("[%s] %s: %s", time.Now().Format("2006-01-02 15:04:05.000"), level, message)

	// Deterministic key order keeps the log diffable.
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, details[k])
	}
	line += "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.WriteString(line)
}

func (l *Logger) Info(message string, details map[string]interface{}) {
	l.log("INFO", message, details)
}

func (l *Logger) Warn(message string, details map[string]interface{}) {
	l.log("WARN", message, details)
}

func (l *Logger) Error(message string, details map[string]interface{}) {
	l.log("ERROR", message, details)
}

func (l *Logger) Debug(message string, details map[string]interface{}) {
	l.log("DEBUG", message, details)
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
