// internal/domain/task_executor.go
package domain

import "context"

// BatchHandler consumes a batch. It is invoked synchronously by the scheduler's worker.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch *Batch) error
}

// BatchHandlerFunc adapts a plain function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, batch *Batch) error

// HandleBatch calls f(ctx, batch).
func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch *Batch) error {
	return f(ctx, batch)
}

// BatchExecutor runs the actual compute for a batch and returns one result per
// request. Results are correlated by RequestID, not by position.
type BatchExecutor interface {
	Execute(ctx context.Context, batch *Batch) ([]*Result, error)
}

// FailureReporter is told about every batch whose handler failed.
type FailureReporter interface {
	ReportBatchFailure(ctx context.Context, batch *Batch, err error)
}
