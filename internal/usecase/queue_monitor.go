// internal/usecase/queue_monitor.go
package usecase

import (
	"time"

	"athena/internal/batcher"
	"athena/internal/domain"
)

// QueueSnapshot is the operator view of the batching pipeline.
type QueueSnapshot struct {
	Depth          int                     `json:"depth"`
	Pending        int                     `json:"pending"`
	Running        bool                    `json:"running"`
	MaxBatchSize   int                     `json:"max_batch_size"`
	MaxWait        time.Duration           `json:"max_wait"`
	Stats          batcher.Stats           `json:"stats"`
	FailuresTotal  int64                   `json:"failures_total"`
	RecentFailures []batcher.FailureRecord `json:"recent_failures"`
}

// QueueMonitor gathers a QueueSnapshot from the live components.
type QueueMonitor struct {
	queue     domain.DispatchQueue
	scheduler *batcher.Scheduler
	failures  *batcher.FailureLog
	service   *InferenceService
	cfg       batcher.Config
}

// NewQueueMonitor creates a QueueMonitor. failures may be nil.
func NewQueueMonitor(queue domain.DispatchQueue, scheduler *batcher.Scheduler, failures *batcher.FailureLog, service *InferenceService, cfg batcher.Config) *QueueMonitor {
	return &QueueMonitor{
		queue:     queue,
		scheduler: scheduler,
		failures:  failures,
		service:   service,
		cfg:       cfg,
	}
}

// Snapshot reads every counter once. The values are not captured atomically
// with respect to each other.
func (m *QueueMonitor) Snapshot() QueueSnapshot {
	snap := QueueSnapshot{
		Depth:        m.queue.Size(),
		Pending:      m.service.Pending(),
		Running:      m.scheduler.Running(),
		MaxBatchSize: m.cfg.MaxBatchSize,
		MaxWait:      m.cfg.MaxWait,
		Stats:        m.scheduler.Stats(),
	}
	if m.failures != nil {
		snap.FailuresTotal = m.failures.Total()
		snap.RecentFailures = m.failures.Recent()
	}
	return snap
}
