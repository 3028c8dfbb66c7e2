// Package buglog appends user bug reports to a flat text file, one line per
// report.
package buglog

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log is an append-only bug-report sink.
type Log struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a bug log writing to path.
func New(path string, logger *slog.Logger) *Log {
	return &Log{
		path:   path,
		logger: logger,
	}
}

// Record appends one "<username>: <description>" line.
func (l *Log) Record(username, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open bug log: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("Failed to close bug log", "error", closeErr)
		}
	}()

	line := fmt.Sprintf("%s: %s\n", username, strings.TrimSpace(description))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append bug report: %w", err)
	}

	l.logger.Info("Bug report recorded", "username", username, "length", len(description))
	return nil
}
