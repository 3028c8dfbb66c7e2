package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"mechwatch-notifier/pkg/watch"
)

// SpoolInbox reads inbound messages from a spool directory: each *.msg file
// is one message, first line the author, the rest the body. Files are removed
// once consumed. Arrival is signalled by the filesystem watcher, so Next is a
// blocking wait, not a poll loop. Used for local development and testing in
// place of a real message transport.
type SpoolInbox struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	pending []watch.Message
}

// NewSpoolInbox creates a spool inbox over dir, creating it if needed.
func NewSpoolInbox(dir string, logger *slog.Logger) (*SpoolInbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create spool watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Warn("Failed to close spool watcher", "error", closeErr)
		}
		return nil, fmt.Errorf("watch spool directory %s: %w", dir, err)
	}

	return &SpoolInbox{
		dir:     dir,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Next returns the next spooled message, blocking until one arrives or ctx
// ends.
func (s *SpoolInbox) Next(ctx context.Context) (watch.Message, error) {
	for {
		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			return msg, nil
		}

		s.consumeSpooled()
		if len(s.pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return watch.Message{}, ctx.Err()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return watch.Message{}, fmt.Errorf("spool watcher closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return watch.Message{}, fmt.Errorf("spool watcher closed")
			}
			s.logger.Warn("Spool watcher error", "error", err)
		}
	}
}

// consumeSpooled drains every *.msg file currently in the directory, oldest
// name first.
func (s *SpoolInbox) consumeSpooled() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("Failed to read spool directory", "dir", s.dir, "error", err)
		return
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".msg") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read spooled message", "path", path, "error", err)
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove spooled message", "path", path, "error", err)
			continue
		}

		author, body, found := strings.Cut(string(data), "\n")
		author = strings.TrimSpace(author)
		if author == "" || !found {
			s.logger.Warn("Skipping malformed spooled message", "path", path)
			continue
		}

		s.pending = append(s.pending, watch.Message{
			Author:  author,
			Body:    body,
			ReplyTo: author,
		})
		s.logger.Info("Spooled message consumed", "path", path, "author", author)
	}
}

// Close stops the directory watcher.
func (s *SpoolInbox) Close() error {
	return s.watcher.Close()
}
