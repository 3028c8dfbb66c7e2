// Package match finds the subscribers a classified post qualifies for and
// dispatches their alerts. It works on a store snapshot, never the store
// itself, so matching a large subscriber base does not hold the store lock.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mechwatch-notifier/pkg/watch"
)

// Sink delivers alert text to a subscriber's reply handle.
type Sink interface {
	Send(ctx context.Context, replyTo, text string) error
}

// Engine dispatches alerts for match tasks.
type Engine struct {
	sink   Sink
	logger *slog.Logger
}

// New creates a match engine.
func New(sink Sink, logger *slog.Logger) *Engine {
	return &Engine{
		sink:   sink,
		logger: logger,
	}
}

// Qualifies reports whether a subscriber should be alerted for a task: at
// least one of their terms for the task's category is a substring of the
// match text, and for trade categories their location filter (if any) appears
// as a bracketed token in the title.
func Qualifies(sub *watch.Subscriber, task watch.MatchTask) bool {
	matched := false
	for _, term := range sub.Lists.Terms(task.Category) {
		if strings.Contains(task.Text, term) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	if task.Category.TradeCategory() && sub.Location != "" {
		return strings.Contains(strings.ToLower(task.Title), "["+sub.Location)
	}
	return true
}

// Dispatch sends exactly one alert to every qualifying subscriber in the
// snapshot, regardless of how many of their terms matched. Returns the number
// of alerts delivered; a failed send is logged and skipped, never retried
// against the rest of the batch.
func (e *Engine) Dispatch(ctx context.Context, task watch.MatchTask, subs map[string]*watch.Subscriber) int {
	sent := 0
	for _, sub := range subs {
		if !Qualifies(sub, task) {
			continue
		}

		e.logger.Info("Alerting subscriber",
			"username", sub.Username,
			"category", string(task.Category),
			"title", task.Title)

		if err := e.sink.Send(ctx, sub.ReplyTo, alertText(task)); err != nil {
			e.logger.Warn("Alert delivery failed",
				"username", sub.Username,
				"category", string(task.Category),
				"error", err)
			continue
		}
		sent++
	}
	return sent
}

func alertText(task watch.MatchTask) string {
	return fmt.Sprintf("One of your /r/mechmarket alerts has been triggered!\n\n%s\n\n%s", task.Title, task.Permalink)
}
