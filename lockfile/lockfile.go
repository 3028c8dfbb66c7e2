// Package lockfile provides a cross-process mutual-exclusion guard keyed by
// file path. Acquisition uses an OS advisory lock (flock), so creation of the
// lock is atomic with respect to concurrent acquirers, and a lock held by a
// crashed process is released by the kernel rather than wedging the store. An
// owner-info sidecar records who holds the lock and since when; an acquirer
// that takes over from an expired or dead owner logs the reclamation.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// ErrLockHeld indicates another owner currently holds the lock.
var ErrLockHeld = errors.New("lockfile: lock held by another owner")

// OwnerInfo records the identity and acquisition time of the current holder.
type OwnerInfo struct {
	OwnerID    string    `json:"owner_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"` // Past this, waiters treat the lock as stale
}

type heldLock struct {
	file     *os.File
	infoPath string
}

// Guard acquires and releases per-key locks. A single Guard serializes
// goroutines within the process; the flock serializes across processes.
type Guard struct {
	ownerID    string
	staleAfter time.Duration
	logger     *slog.Logger
	mu         sync.Mutex
	sems       map[string]chan struct{}
	held       map[string]*heldLock
}

// New creates a guard. ownerID identifies this process in owner-info sidecars
// and reclamation logs; staleAfter is the staleness threshold past which
// waiters may reclaim a lock.
func New(ownerID string, staleAfter time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		ownerID:    ownerID,
		staleAfter: staleAfter,
		logger:     logger,
		sems:       make(map[string]chan struct{}),
		held:       make(map[string]*heldLock),
	}
}

// sem returns the in-process semaphore for a key.
func (g *Guard) sem(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		g.sems[key] = s
	}
	return s
}

// Acquire blocks until this guard holds exclusive access for key, across
// goroutines and across OS processes, or until ctx ends.
func (g *Guard) Acquire(ctx context.Context, key string) error {
	select {
	case g.sem(key) <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire %s: %w", key, ctx.Err())
	}

	held, err := g.flockWithReclaim(ctx, key)
	if err != nil {
		<-g.sem(key)
		return err
	}

	g.mu.Lock()
	g.held[key] = held
	g.mu.Unlock()
	return nil
}

// flockWithReclaim takes the advisory lock, retrying while a live owner holds
// it. Retrying the atomic flock attempt is not a check-then-create race: the
// kernel arbitrates every attempt.
func (g *Guard) flockWithReclaim(ctx context.Context, key string) (*heldLock, error) {
	lockPath := key + ".lock"
	infoPath := key + ".owner"

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	err = retry.Do(
		func() error {
			flockErr := flock(f)
			if flockErr == nil {
				return nil
			}
			if !errors.Is(flockErr, ErrLockHeld) {
				return retry.Unrecoverable(fmt.Errorf("flock %s: %w", lockPath, flockErr))
			}

			// A live process holds the lock. If its owner info is past the
			// staleness threshold, drop the sidecar so the takeover is
			// visible; the flock itself frees as soon as the owner exits.
			if info, readErr := readOwnerInfo(infoPath); readErr == nil && info != nil && time.Now().After(info.ExpiresAt) {
				g.logger.Warn("Lock owner exceeded staleness threshold",
					"key", key,
					"owner", info.OwnerID,
					"pid", info.PID,
					"acquired_at", info.AcquiredAt.Format(time.RFC3339))
				_ = os.Remove(infoPath)
			}
			return ErrLockHeld
		},
		retry.Attempts(200),
		retry.Delay(25*time.Millisecond),
		retry.MaxDelay(500*time.Millisecond),
		retry.MaxJitter(25*time.Millisecond),
		retry.Context(ctx),
	)
	if err != nil {
		closeQuiet(f, g.logger)
		return nil, fmt.Errorf("acquire %s after retries: %w", key, err)
	}

	// Holding the flock now. A leftover sidecar means the previous owner died
	// without releasing; log the reclamation it implies.
	if info, readErr := readOwnerInfo(infoPath); readErr == nil && info != nil && info.OwnerID != g.ownerID {
		g.logger.Warn("Reclaimed lock from dead owner",
			"key", key,
			"previous_owner", info.OwnerID,
			"previous_pid", info.PID,
			"acquired_at", info.AcquiredAt.Format(time.RFC3339))
	}

	now := time.Now()
	if err := writeOwnerInfo(infoPath, &OwnerInfo{
		OwnerID:    g.ownerID,
		PID:        os.Getpid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(g.staleAfter),
	}); err != nil {
		_ = unflock(f)
		closeQuiet(f, g.logger)
		return nil, fmt.Errorf("write owner info %s: %w", infoPath, err)
	}

	return &heldLock{file: f, infoPath: infoPath}, nil
}

// Release makes the lock for key available to the next waiter.
func (g *Guard) Release(key string) error {
	g.mu.Lock()
	held, ok := g.held[key]
	delete(g.held, key)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("release %s: lock not held", key)
	}

	if err := os.Remove(held.infoPath); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("Failed to remove owner info", "path", held.infoPath, "error", err)
	}
	// The lock file itself is never unlinked: removing it while a waiter has
	// the same inode open would let two processes lock different inodes.
	if err := unflock(held.file); err != nil {
		g.logger.Warn("Failed to release flock", "key", key, "error", err)
	}
	closeQuiet(held.file, g.logger)

	<-g.sem(key)
	return nil
}

// WithLock runs fn while holding the lock for key, guaranteeing release even
// when fn panics or returns an error.
func (g *Guard) WithLock(ctx context.Context, key string, fn func() error) error {
	if err := g.Acquire(ctx, key); err != nil {
		return err
	}
	defer func() {
		if err := g.Release(key); err != nil {
			g.logger.Warn("Lock release failed", "key", key, "error", err)
		}
	}()
	return fn()
}

func readOwnerInfo(path string) (*OwnerInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info OwnerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeOwnerInfo(path string, info *OwnerInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func closeQuiet(f *os.File, logger *slog.Logger) {
	if err := f.Close(); err != nil {
		logger.Warn("Failed to close lock file", "error", err)
	}
}
