package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the embedding service could not produce vectors.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// ServiceError is returned once every attempt against the embedding
// service has failed. It matches both ErrEmbeddingFailed and the last
// underlying error with errors.Is.
type ServiceError struct {
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() []error {
	return []error{ErrEmbeddingFailed, e.Err}
}

// transientError marks a failure worth retrying (429, 5xx, network).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyInput) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// The OpenAI client only surfaces status codes in the message text.
	msg := err.Error()
	for _, marker := range []string{"status code: 429", "status code: 500", "status code: 502", "status code: 503", "status code: 504", "connection reset", "unexpected EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
