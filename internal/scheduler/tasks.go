// internal/scheduler/tasks.go
package scheduler

import (
	"context"

	"athena/internal/metrics"
	"athena/internal/usecase"

	"go.uber.org/zap"
)

// Snapshotter is satisfied by usecase.QueueMonitor.
type Snapshotter interface {
	Snapshot() usecase.QueueSnapshot
}

// SampleQueueDepth copies the queue length into the depth gauge.
func SampleQueueDepth(source Snapshotter) Task {
	return func(context.Context) error {
		metrics.QueueDepth.Set(float64(source.Snapshot().Depth))
		return nil
	}
}

// LogSchedulerStats logs the batching counters, at warn level when the
// worker is no longer running.
func LogSchedulerStats(source Snapshotter, logger *zap.Logger) Task {
	return func(context.Context) error {
		snap := source.Snapshot()
		fields := []zap.Field{
			zap.Int("queue_depth", snap.Depth),
			zap.Int("pending", snap.Pending),
			zap.Int64("batches", snap.Stats.Batches),
			zap.Int64("requests", snap.Stats.Requests),
			zap.Int64("failures", snap.Stats.Failures),
			zap.Int64("last_batch_size", snap.Stats.LastBatchSize),
		}
		if !snap.Running {
			logger.Warn("batch scheduler is not running", fields...)
			return nil
		}
		logger.Info("batch scheduler stats", fields...)
		return nil
	}
}
