// Package llm is the boundary to the language model service. It defines
// the completion contract used by the voter and phase executors, an
// OpenAI-compatible HTTP implementation, and a retrying wrapper that owns
// timeout and backoff semantics.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response carries the completion text and token accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the LLM transport contract. Retries are the caller's
// responsibility; implementations surface one attempt's outcome.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrorKind classifies a failed completion attempt.
type ErrorKind string

// Failure modes of the transport.
const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindTransport   ErrorKind = "transport_error"
	ErrKindMalformed   ErrorKind = "malformed"
)

// Error is a classified transport failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Malformed
// responses are not retried — the payload arrived, the provider is
// answering, and a retry burns budget for the same result.
func (e *Error) Retryable() bool {
	return e.Kind == ErrKindTimeout || e.Kind == ErrKindRateLimited || e.Kind == ErrKindTransport
}

// KindOf extracts the error kind, defaulting to transport_error for
// unclassified failures.
func KindOf(err error) ErrorKind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return ErrKindTransport
}
