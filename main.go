// Package main runs the mechmarket watchlist bot: two pollers sharing one
// durable subscriber store. The inbox worker turns subscriber messages into
// watch-list mutations; the submission worker matches new post titles against
// every watch list and sends alerts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mechwatch-notifier/buglog"
	"mechwatch-notifier/command"
	"mechwatch-notifier/lockfile"
	"mechwatch-notifier/match"
	"mechwatch-notifier/source"
	"mechwatch-notifier/storage"
	"mechwatch-notifier/worker"
)

const (
	defaultFeedURL      = "https://old.reddit.com/r/mechmarket/new/"
	defaultFeedInterval = time.Minute
	lockStaleAfter      = 2 * time.Minute
	backupKeep          = 35
	backupInterval      = 6 * time.Hour
	poolWorkers         = 4
	poolQueue           = 16
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local .env overrides are optional.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dataDir := envDefault("DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", "path", dataDir, "error", err)
		os.Exit(1)
	}

	guard := lockfile.New(uuid.NewString(), lockStaleAfter, logger)
	store := storage.New(filepath.Join(dataDir, "subscribers.json"), guard, logger)
	bugs := buglog.New(filepath.Join(dataDir, "bug_reports.txt"), logger)

	sink := source.NewMockSink(logger)
	proc := command.NewProcessor(store, bugs, logger)
	engine := match.New(sink, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	feedURL := envDefault("FEED_URL", defaultFeedURL)
	feedInterval := envDuration("FEED_INTERVAL", defaultFeedInterval, logger)
	posts := source.NewFeed(httpClient, feedURL, feedInterval, logger)

	// Inbound messages arrive via a spool directory until a real message
	// transport is wired up; with no spool configured the inbox sits idle.
	var messages source.MessageSource = source.IdleMessageSource{}
	if spoolDir := os.Getenv("INBOX_SPOOL_DIR"); spoolDir != "" {
		spool, err := source.NewSpoolInbox(spoolDir, logger)
		if err != nil {
			logger.Error("Failed to open inbox spool", "dir", spoolDir, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := spool.Close(); err != nil {
				logger.Warn("Failed to close inbox spool", "error", err)
			}
		}()
		messages = spool
		logger.Info("Inbox spool enabled", "dir", spoolDir)
	} else {
		logger.Info("No INBOX_SPOOL_DIR set, inbox worker will idle")
	}

	inbox := worker.NewInbox(messages, sink, proc, poolWorkers, poolQueue, logger)
	submissions := worker.NewSubmissions(posts, store, engine, poolWorkers, poolQueue, logger)

	backup := newBackup(ctx, store, dataDir, logger)

	logger.Info("Starting workers",
		"feed_url", feedURL,
		"feed_interval", feedInterval.String(),
		"data_dir", dataDir)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inbox.Run(ctx) })
	g.Go(func() error { return submissions.Run(ctx) })
	g.Go(func() error { return backup.Run(ctx, backupInterval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Shut down cleanly")
}

// newBackup wires the snapshot rotation, mirroring to a bucket when
// BACKUP_BUCKET is set.
func newBackup(ctx context.Context, store *storage.Store, dataDir string, logger *slog.Logger) *storage.Backup {
	bucket := os.Getenv("BACKUP_BUCKET")

	var client *gcs.Client
	if bucket != "" {
		var err error
		client, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		logger.Info("Backup mirror enabled", "bucket", bucket)
	}

	return storage.NewBackup(store, filepath.Join(dataDir, "backups"), backupKeep, client, bucket, logger)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration, logger *slog.Logger) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("Invalid duration, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return d
}
