// Package source defines the external event sources and the reply sink the
// bot consumes: an inbound-message stream, a new-post stream, and an outbound
// text sink. The core never constructs the remote ends; it only reads the
// streams and calls the sink.
package source

import (
	"context"
	"errors"
	"fmt"

	"mechwatch-notifier/pkg/watch"
)

// MessageSource yields inbound messages from subscribers. Next blocks until a
// message arrives or ctx ends.
type MessageSource interface {
	Next(ctx context.Context) (watch.Message, error)
}

// PostSource yields new posts from the board. Next blocks until a post
// arrives or ctx ends.
type PostSource interface {
	Next(ctx context.Context) (watch.Post, error)
}

// ReplySink delivers outbound text to a reply handle.
type ReplySink interface {
	Send(ctx context.Context, replyTo, text string) error
}

// AuthError indicates the remote end rejected our credentials or permissions.
// Workers treat it as fatal rather than retrying.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization rejected during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError checks if an error is an authorization failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
