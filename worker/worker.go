package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"mechwatch-notifier/classify"
	"mechwatch-notifier/command"
	"mechwatch-notifier/match"
	"mechwatch-notifier/pkg/watch"
	"mechwatch-notifier/source"
)

// Snapshotter provides the consistent store view the match path reads.
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string]*watch.Subscriber, error)
}

// next polls a source with backoff on transient failures. Auth rejections are
// not retried; a source that keeps failing after the retry budget is treated
// as a persistent failure and ends the worker.
func next[T any](ctx context.Context, logger *slog.Logger, what string, poll func(context.Context) (T, error)) (T, error) {
	var item T
	err := retry.Do(
		func() error {
			var pollErr error
			item, pollErr = poll(ctx)
			return pollErr
		},
		retry.Attempts(10),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Event source failed, retrying", "source", what, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !source.IsAuthError(err)
		}),
	)
	if err != nil {
		return item, fmt.Errorf("%s after retries: %w", what, err)
	}
	return item, nil
}

// Inbox drives the command pipeline: one inbound message becomes zero or more
// store transactions plus their replies.
type Inbox struct {
	src    source.MessageSource
	sink   source.ReplySink
	proc   *command.Processor
	pool   *Pool[watch.Message]
	logger *slog.Logger
}

// NewInbox creates the inbox worker.
func NewInbox(src source.MessageSource, sink source.ReplySink, proc *command.Processor, workers, queue int, logger *slog.Logger) *Inbox {
	return &Inbox{
		src:    src,
		sink:   sink,
		proc:   proc,
		pool:   NewPool[watch.Message](workers, queue),
		logger: logger,
	}
}

// Run polls the message source until ctx ends or the source fails
// persistently.
func (w *Inbox) Run(ctx context.Context) error {
	w.logger.Info("Inbox worker started")
	w.pool.Start(ctx, w.handle)
	defer w.pool.Close()

	for {
		msg, err := next(ctx, w.logger, "inbox", w.src.Next)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Inbox worker stopping", "reason", ctx.Err())
				return ctx.Err()
			}
			if source.IsAuthError(err) {
				w.logger.Error("Inbox source rejected credentials, terminating worker", "error", err)
				return err
			}
			w.logger.Error("Inbox source failed persistently, terminating worker", "error", err)
			return err
		}
		w.pool.Submit(msg)
	}
}

func (w *Inbox) handle(ctx context.Context, msg watch.Message) {
	w.logger.Info("Message received", "author", msg.Author, "length", len(msg.Body))

	// First contact creates the record; every contact refreshes the reply
	// handle.
	if err := w.proc.Touch(ctx, msg.Author, msg.ReplyTo); err != nil {
		w.logger.Error("Failed to touch subscriber record", "author", msg.Author, "error", err)
		return
	}

	res := command.Parse(msg.Body)
	for _, problem := range res.Problems {
		w.send(ctx, msg.ReplyTo, problem)
	}
	if res.Rejected != "" {
		w.send(ctx, msg.ReplyTo, res.Rejected)
		return
	}

	// In order, each command its own transaction: later commands observe the
	// effects of earlier ones in the same batch.
	for _, cmd := range res.Commands {
		replies, err := w.proc.Apply(ctx, msg.Author, cmd)
		if err != nil {
			w.logger.Error("Command failed", "author", msg.Author, "verb", int(cmd.Verb), "error", err)
			continue
		}
		for _, reply := range replies {
			w.send(ctx, msg.ReplyTo, reply)
		}
	}
}

func (w *Inbox) send(ctx context.Context, replyTo, text string) {
	if err := w.sink.Send(ctx, replyTo, text); err != nil {
		w.logger.Warn("Reply delivery failed", "reply_to", replyTo, "error", err)
	}
}

// Submissions drives the match pipeline: one new post becomes one snapshot
// read plus one match pass per derived task.
type Submissions struct {
	src    source.PostSource
	store  Snapshotter
	engine *match.Engine
	pool   *Pool[watch.Post]
	logger *slog.Logger
}

// NewSubmissions creates the submission worker.
func NewSubmissions(src source.PostSource, store Snapshotter, engine *match.Engine, workers, queue int, logger *slog.Logger) *Submissions {
	return &Submissions{
		src:    src,
		store:  store,
		engine: engine,
		pool:   NewPool[watch.Post](workers, queue),
		logger: logger,
	}
}

// Run polls the post source until ctx ends or the source fails persistently.
func (w *Submissions) Run(ctx context.Context) error {
	w.logger.Info("Submission worker started")
	w.pool.Start(ctx, w.handle)
	defer w.pool.Close()

	for {
		post, err := next(ctx, w.logger, "submissions", w.src.Next)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Submission worker stopping", "reason", ctx.Err())
				return ctx.Err()
			}
			if source.IsAuthError(err) {
				w.logger.Error("Post source rejected credentials, terminating worker", "error", err)
				return err
			}
			w.logger.Error("Post source failed persistently, terminating worker", "error", err)
			return err
		}
		w.pool.Submit(post)
	}
}

func (w *Submissions) handle(ctx context.Context, post watch.Post) {
	tasks := classify.Classify(post)
	if len(tasks) == 0 {
		w.logger.Debug("Post matched no classification rule", "title", post.Title)
		return
	}

	// One snapshot covers all of the post's tasks, taken under a short
	// critical section; the matching itself runs outside the lock.
	subs, err := w.store.Snapshot(ctx)
	if err != nil {
		w.logger.Error("Snapshot failed, skipping post", "title", post.Title, "error", err)
		return
	}

	start := time.Now()
	total := 0
	for _, task := range tasks {
		total += w.engine.Dispatch(ctx, task, subs)
	}
	w.logger.Info("Post processed",
		"title", post.Title,
		"tasks", len(tasks),
		"alerts", total,
		"duration_ms", time.Since(start).Milliseconds())
}
