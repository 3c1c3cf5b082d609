// internal/domain/request.go
package domain

import (
	"fmt"
	"time"
)

// Request is a single unit of compute submitted by a producer.
// The payload is opaque to the core. Deadline is advisory: nothing in the
// queue or the scheduler drops or reorders a request because of it.
type Request struct {
	ID       string    `json:"id"`
	Payload  []byte    `json:"payload"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// Validate checks the fields a producer must fill in.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: request id cannot be empty", ErrInvalidRequest)
	}
	return nil
}

// PastDeadline reports whether the request carries a deadline that is before now.
func (r *Request) PastDeadline(now time.Time) bool {
	return !r.Deadline.IsZero() && now.After(r.Deadline)
}

// Batch is an ordered group of requests handed to one handler invocation.
type Batch struct {
	ID       string     `json:"id"`
	Requests []*Request `json:"requests"`
	FormedAt time.Time  `json:"formed_at"`
}

// Len returns the number of requests in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Requests)
}

// Result is the per-request output produced by a BatchExecutor.
type Result struct {
	RequestID string        `json:"request_id"`
	Output    []byte        `json:"output,omitempty"`
	BatchID   string        `json:"batch_id,omitempty"`
	BatchSize int           `json:"batch_size,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	Err       error         `json:"-"`
}
