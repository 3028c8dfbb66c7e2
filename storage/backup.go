package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

const backupPrefix = "subscribers-"

// Backup periodically copies the store snapshot into a rotation directory,
// keeping only the newest copies, and optionally mirrors each copy to a
// Cloud Storage bucket.
type Backup struct {
	store  *Store
	dir    string
	keep   int
	client *gcs.Client // nil disables the bucket mirror
	bucket string
	logger *slog.Logger
}

// NewBackup creates a backup rotation for the given store. client may be nil
// to run local-only.
func NewBackup(store *Store, dir string, keep int, client *gcs.Client, bucket string, logger *slog.Logger) *Backup {
	return &Backup{
		store:  store,
		dir:    dir,
		keep:   keep,
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// Run takes a backup every interval until ctx ends.
func (b *Backup) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.RunOnce(ctx); err != nil {
				b.logger.Warn("Backup failed", "error", err)
			}
		}
	}
}

// RunOnce takes one backup and prunes the rotation.
func (b *Backup) RunOnce(ctx context.Context) error {
	data, err := b.store.Export(ctx)
	if err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	// Timestamped names sort lexicographically in creation order.
	name := backupPrefix + time.Now().UTC().Format("20060102T150405") + ".json"
	path := filepath.Join(b.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	b.logger.Info("Backup written", "path", path, "bytes", len(data))

	if err := b.pruneLocal(); err != nil {
		b.logger.Warn("Local backup prune failed", "error", err)
	}

	if b.client != nil {
		if err := b.mirror(ctx, name, data); err != nil {
			return fmt.Errorf("mirror backup: %w", err)
		}
	}
	return nil
}

// pruneLocal removes the oldest local copies beyond the keep limit.
func (b *Backup) pruneLocal() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for len(names) > b.keep {
		oldest := names[0]
		names = names[1:]
		if err := os.Remove(filepath.Join(b.dir, oldest)); err != nil {
			return err
		}
		b.logger.Info("Pruned old backup", "name", oldest)
	}
	return nil
}

// mirror uploads a backup copy to the bucket and prunes old objects there.
func (b *Backup) mirror(ctx context.Context, name string, data []byte) error {
	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to bucket: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close bucket writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying backup upload after error", "attempt", n, "name", name, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("upload after retries: %w", err)
	}
	b.logger.Info("Backup mirrored", "bucket", b.bucket, "name", name)

	return b.pruneBucket(ctx)
}

// pruneBucket removes the oldest mirrored objects beyond the keep limit.
func (b *Backup) pruneBucket(ctx context.Context) error {
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: backupPrefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("iterate bucket: %w", err)
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)

	for len(names) > b.keep {
		oldest := names[0]
		names = names[1:]
		if err := b.client.Bucket(b.bucket).Object(oldest).Delete(ctx); err != nil {
			return fmt.Errorf("delete old backup %s: %w", oldest, err)
		}
		b.logger.Info("Pruned mirrored backup", "bucket", b.bucket, "name", oldest)
	}
	return nil
}
