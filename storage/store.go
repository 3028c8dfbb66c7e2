// Package storage persists the subscriber registry as a single JSON snapshot
// shared across worker processes. Every operation is one lock-guarded critical
// section: load the latest snapshot, mutate, stage the write, atomically
// promote it. A crash mid-write never leaves a torn store, and concurrent
// writers never lose updates because the whole snapshot is serialized.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mechwatch-notifier/lockfile"
	"mechwatch-notifier/pkg/watch"
)

// ErrNotFound indicates the requested subscriber does not exist.
var ErrNotFound = errors.New("storage: subscriber not found")

// ErrUnchanged can be returned by an Upsert mutator to skip the write while
// still reporting success to the caller.
var ErrUnchanged = errors.New("storage: record unchanged")

// IsNotFound checks if an error indicates a subscriber was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store handles subscriber persistence.
type Store struct {
	path   string
	guard  *lockfile.Guard
	logger *slog.Logger
}

// New creates a store backed by the snapshot file at path.
func New(path string, guard *lockfile.Guard, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		guard:  guard,
		logger: logger,
	}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Get loads one subscriber. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, username string) (*watch.Subscriber, error) {
	var sub *watch.Subscriber
	err := s.guard.WithLock(ctx, s.path, func() error {
		subs, err := s.readAll()
		if err != nil {
			return err
		}
		found, ok := subs[username]
		if !ok {
			return ErrNotFound
		}
		sub = found.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Upsert loads the current snapshot, creates a default record for username if
// absent, applies mutate to it, and persists the snapshot back, all inside one
// critical section. This is the only path that ever changes a subscriber.
// Returns a copy of the record as persisted.
func (s *Store) Upsert(ctx context.Context, username string, mutate func(*watch.Subscriber) error) (*watch.Subscriber, error) {
	var result *watch.Subscriber
	err := s.guard.WithLock(ctx, s.path, func() error {
		subs, err := s.readAll()
		if err != nil {
			return err
		}
		sub, ok := subs[username]
		if !ok {
			sub = watch.NewSubscriber(username)
			subs[username] = sub
		}

		if err := mutate(sub); err != nil {
			if errors.Is(err, ErrUnchanged) {
				result = sub.Clone()
				return nil
			}
			return err
		}

		if err := s.writeAll(subs); err != nil {
			return err
		}
		result = sub.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Subscriber upserted", "username", username)
	return result, nil
}

// Remove deletes a subscriber record. Deletion is idempotent: removing an
// absent record is not an error.
func (s *Store) Remove(ctx context.Context, username string) error {
	err := s.guard.WithLock(ctx, s.path, func() error {
		subs, err := s.readAll()
		if err != nil {
			return err
		}
		if _, ok := subs[username]; !ok {
			return nil
		}
		delete(subs, username)
		return s.writeAll(subs)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Subscriber removed", "username", username)
	return nil
}

// Snapshot returns a deep copy of every subscriber. The critical section
// covers only the read, so matching work never blocks command processing for
// longer than one snapshot copy.
func (s *Store) Snapshot(ctx context.Context) (map[string]*watch.Subscriber, error) {
	var copy map[string]*watch.Subscriber
	err := s.guard.WithLock(ctx, s.path, func() error {
		subs, err := s.readAll()
		if err != nil {
			return err
		}
		copy = make(map[string]*watch.Subscriber, len(subs))
		for name, sub := range subs {
			copy[name] = sub.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return copy, nil
}

// Count returns the number of subscribers.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.guard.WithLock(ctx, s.path, func() error {
		subs, err := s.readAll()
		if err != nil {
			return err
		}
		n = len(subs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Export returns the serialized snapshot bytes under a short critical
// section. Used by the backup rotation.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.guard.WithLock(ctx, s.path, func() error {
		raw, err := os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				data = []byte("{}")
				return nil
			}
			return fmt.Errorf("read snapshot: %w", err)
		}
		data = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// readAll decodes the snapshot file. A missing file is an empty registry.
func (s *Store) readAll() (map[string]*watch.Subscriber, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*watch.Subscriber), nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	subs := make(map[string]*watch.Subscriber)
	if len(data) == 0 {
		return subs, nil
	}
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", s.path, err)
	}
	return subs, nil
}

// writeAll stages the snapshot to a temporary file in the same directory and
// atomically renames it over the canonical path, so a crash mid-write never
// leaves a torn or truncated store.
func (s *Store) writeAll(subs map[string]*watch.Subscriber) error {
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".subscribers-*.json")
	if err != nil {
		return fmt.Errorf("stage snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		closeRemove(tmp, tmpPath, s.logger)
		return fmt.Errorf("write staged snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		closeRemove(tmp, tmpPath, s.logger)
		return fmt.Errorf("sync staged snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close staged snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("promote snapshot: %w", err)
	}
	return nil
}

func closeRemove(f *os.File, path string, logger *slog.Logger) {
	if err := f.Close(); err != nil {
		logger.Warn("Failed to close staged snapshot", "path", path, "error", err)
	}
	_ = os.Remove(path)
}
