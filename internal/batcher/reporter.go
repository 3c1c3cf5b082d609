// internal/batcher/reporter.go
package batcher

import (
	"context"
	"sync"
	"time"

	"athena/internal/domain"
)

// FailureRecord is one failed batch as remembered by FailureLog.
type FailureRecord struct {
	BatchID    string    `json:"batch_id"`
	Size       int       `json:"size"`
	RequestIDs []string  `json:"request_ids"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// FailureLog keeps the most recent batch failures in memory so they can be
// served by the status endpoints.
type FailureLog struct {
	mu      sync.Mutex
	limit   int
	records []FailureRecord
	total   int64
}

var _ domain.FailureReporter = (*FailureLog)(nil)

// NewFailureLog creates a FailureLog holding at most limit records.
func NewFailureLog(limit int) *FailureLog {
	if limit < 1 {
		limit = 1
	}
	return &FailureLog{limit: limit}
}

// ReportBatchFailure implements domain.FailureReporter.
func (l *FailureLog) ReportBatchFailure(_ context.Context, batch *domain.Batch, err error) {
	rec := FailureRecord{
		BatchID:    batch.ID,
		Size:       batch.Len(),
		RequestIDs: make([]string, 0, batch.Len()),
		Error:      err.Error(),
		At:         time.Now(),
	}
	for _, req := range batch.Requests {
		rec.RequestIDs = append(rec.RequestIDs, req.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	l.records = append(l.records, rec)
	if len(l.records) > l.limit {
		l.records = l.records[len(l.records)-l.limit:]
	}
}

// Recent returns the remembered failures, newest last.
func (l *FailureLog) Recent() []FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FailureRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Total returns the number of failures reported since creation.
func (l *FailureLog) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
