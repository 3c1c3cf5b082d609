// internal/domain/dispatcher.go
package domain

import (
	"context"
	"time"
)

// OverflowPolicy selects what a bounded queue does when it is full.
type OverflowPolicy string

const (
	// OverflowReject fails the enqueue with ErrQueueFull.
	OverflowReject OverflowPolicy = "reject"
	// OverflowBlock makes the producer wait for space or context cancellation.
	OverflowBlock OverflowPolicy = "block"
)

// Producer is the side of the dispatch queue used by request sources.
type Producer interface {
	Enqueue(ctx context.Context, req *Request) error
}

// BatchSource is the side of the dispatch queue used by the batch scheduler.
type BatchSource interface {
	// DequeueBatch returns up to maxItems requests in FIFO order, waiting at
	// most maxWait for the first one. An empty result is not an error.
	DequeueBatch(ctx context.Context, maxItems int, maxWait time.Duration) ([]*Request, error)
}

// DispatchQueue is the thread-safe FIFO sitting between producers and the scheduler.
type DispatchQueue interface {
	Producer
	BatchSource
	// Size is advisory and only meant for metrics.
	Size() int
	Close()
}
