// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by a bounded queue in reject mode when it is at capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned when enqueueing after the queue was shut down.
	ErrQueueClosed = errors.New("queue closed")
	// ErrInvalidConfiguration is returned by constructors given unusable settings.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidRequest is returned for a nil request or one without an id.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicateRequest is returned when a request id is already in flight.
	ErrDuplicateRequest = errors.New("duplicate request id")
	// ErrNoResult is delivered to a waiter whose batch finished without a result for it.
	ErrNoResult = errors.New("no result for request")
	// ErrModelNotFound is a sentinel error returned when a model is not known.
	ErrModelNotFound = errors.New("model not found")
)

// HandlerFailure describes a batch whose handler returned an error or panicked.
// Every request in the batch is considered failed.
type HandlerFailure struct {
	BatchID string
	Size    int
	Err     error
}

func (f *HandlerFailure) Error() string {
	return fmt.Sprintf("batch %s (%d requests) failed: %v", f.BatchID, f.Size, f.Err)
}

func (f *HandlerFailure) Unwrap() error {
	return f.Err
}
