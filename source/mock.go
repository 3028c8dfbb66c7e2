package source

import (
	"context"
	"log/slog"

	"mechwatch-notifier/pkg/watch"
)

// MockSink logs outbound replies instead of delivering them. Used for local
// development when no real transport is configured.
type MockSink struct {
	logger *slog.Logger
}

// NewMockSink creates a new mock reply sink.
func NewMockSink(logger *slog.Logger) *MockSink {
	return &MockSink{logger: logger}
}

// Send logs the reply instead of sending it.
func (m *MockSink) Send(_ context.Context, replyTo, text string) error {
	m.logger.Info("MOCK REPLY",
		"reply_to", replyTo,
		"length", len(text),
		"text", text)
	return nil
}

// IdleMessageSource blocks until the context ends. Used when no inbound
// message transport is configured.
type IdleMessageSource struct{}

// Next blocks for the lifetime of ctx.
func (IdleMessageSource) Next(ctx context.Context) (watch.Message, error) {
	<-ctx.Done()
	return watch.Message{}, ctx.Err()
}
