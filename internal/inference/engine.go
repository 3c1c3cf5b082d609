// internal/inference/engine.go
package inference

import (
	"context"
	"time"

	"athena/internal/domain"

	"go.uber.org/zap"
)

// Engine simulates model execution. Each batch costs a fixed base latency plus
// a per-item latency, and every request's payload is echoed back as output.
type Engine struct {
	base    time.Duration
	perItem time.Duration
	logger  *zap.Logger
}

var _ domain.BatchExecutor = (*Engine)(nil)

// NewEngine creates a mock engine.
func NewEngine(base, perItem time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		base:    base,
		perItem: perItem,
		logger:  logger.With(zap.String("component", "mock-engine")),
	}
}

// Cost returns the simulated latency of a batch of n requests.
func (e *Engine) Cost(n int) time.Duration {
	return e.base + e.perItem*time.Duration(n)
}

// Execute implements domain.BatchExecutor.
func (e *Engine) Execute(ctx context.Context, batch *domain.Batch) ([]*domain.Result, error) {
	start := time.Now()
	cost := e.Cost(batch.Len())

	timer := time.NewTimer(cost)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	elapsed := time.Since(start)
	results := make([]*domain.Result, 0, batch.Len())
	for _, req := range batch.Requests {
		results = append(results, &domain.Result{
			RequestID: req.ID,
			Output:    req.Payload,
			BatchID:   batch.ID,
			BatchSize: batch.Len(),
			Latency:   elapsed,
		})
	}

	e.logger.Debug("processed batch",
		zap.String("batch_id", batch.ID),
		zap.Int("batch_size", batch.Len()),
		zap.Duration("took", elapsed),
	)
	return results, nil
}
