// Package completion is the language-model collaborator: one request in, one
// text reply out.
//
// Providers never retry. A failed call is classified into the errors below
// and returned; re-running work is the job of the pipeline loop that owns
// the calling stage.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// Options tunes a single completion.
type Options struct {
	Temperature     float64
	MaxOutputLength int
}

// Request is one completion call.
type Request struct {
	// Role names the caller, usually the stage name. Used for logs, spans
	// and scripted replies; never sent to the provider.
	Role string

	System  string
	Prompt  string
	Options Options
}

// Client performs completions.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Failure classes. Provider errors wrap exactly one of these.
var (
	ErrTimeout         = errors.New("completion timed out")
	ErrRateLimited     = errors.New("completion rate limited")
	ErrTransport       = errors.New("completion transport failure")
	ErrInvalidResponse = errors.New("invalid completion response")
	ErrRejected        = errors.New("completion request rejected")
)

// IsRetriable reports whether err is transient: a timeout, a rate limit or a
// transport failure. Rejected requests and malformed replies are not.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTransport)
}

// contextError maps a context error to the taxonomy. Cancellation is
// returned unchanged so callers can tell it apart from a provider failure.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
