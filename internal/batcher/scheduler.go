// internal/batcher/scheduler.go
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"athena/internal/domain"
	"athena/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// idleWait bounds how long the worker parks on an empty queue when MaxWait is
// zero. The first arrival ends the park, so batches are never held back.
const idleWait = time.Second

// Config holds the batch formation parameters. They are fixed for the
// scheduler's lifetime.
type Config struct {
	// MaxBatchSize is the largest batch handed to the handler. Must be >= 1.
	MaxBatchSize int
	// MaxWait is how long to wait for the first request of a batch. Zero means
	// batch whatever is queued without waiting for more. On an empty queue the
	// worker then parks until the next arrival wakes it (bounded by idleWait);
	// it does not poll.
	MaxWait time.Duration
	// HandlerTimeout, when positive, puts a deadline on the handler's context.
	HandlerTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("%w: max batch size must be at least 1, got %d", domain.ErrInvalidConfiguration, c.MaxBatchSize)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("%w: max wait cannot be negative, got %s", domain.ErrInvalidConfiguration, c.MaxWait)
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("%w: handler timeout cannot be negative, got %s", domain.ErrInvalidConfiguration, c.HandlerTimeout)
	}
	return nil
}

// Stats is a snapshot of the scheduler's counters.
type Stats struct {
	Batches       int64 `json:"batches"`
	Requests      int64 `json:"requests"`
	Failures      int64 `json:"failures"`
	LastBatchSize int64 `json:"last_batch_size"`
}

// Scheduler drains a BatchSource with a single worker goroutine and hands each
// non-empty batch to the handler, one at a time.
type Scheduler struct {
	cfg      Config
	source   domain.BatchSource
	handler  domain.BatchHandler
	reporter domain.FailureReporter
	logger   *zap.Logger
	tracer   trace.Tracer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	batches       atomic.Int64
	requests      atomic.Int64
	failures      atomic.Int64
	lastBatchSize atomic.Int64
}

var _ domain.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a stopped scheduler. reporter may be nil.
func NewScheduler(cfg Config, source domain.BatchSource, handler domain.BatchHandler, reporter domain.FailureReporter, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: batch source is nil", domain.ErrInvalidConfiguration)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: batch handler is nil", domain.ErrInvalidConfiguration)
	}

	return &Scheduler{
		cfg:      cfg,
		source:   source,
		handler:  handler,
		reporter: reporter,
		logger:   logger.With(zap.String("component", "batch-scheduler")),
		tracer:   otel.Tracer("athena-batcher"),
	}, nil
}

// Start launches the worker. Starting a running scheduler is a no-op that
// only logs a warning.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.logger.Warn("batch scheduler already running, ignoring start")
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

// Stop asks the worker to exit and waits until it has. A handler call that is
// already running is allowed to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running reports whether the worker is alive.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Batches:       s.batches.Load(),
		Requests:      s.requests.Load(),
		Failures:      s.failures.Load(),
		LastBatchSize: s.lastBatchSize.Load(),
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.logger.Info("batch scheduler started",
		zap.Int("max_batch_size", s.cfg.MaxBatchSize),
		zap.Duration("max_wait", s.cfg.MaxWait),
	)

	wait := s.cfg.MaxWait
	if wait == 0 {
		wait = idleWait
	}

	defer s.logger.Info("batch scheduler stopped")

	for ctx.Err() == nil {
		reqs, err := s.source.DequeueBatch(ctx, s.cfg.MaxBatchSize, wait)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, domain.ErrQueueClosed):
			s.logger.Info("batch source closed, worker exiting")
			return
		default:
			s.logger.Error("failed to dequeue batch, worker exiting", zap.Error(err))
			return
		}
		if len(reqs) == 0 {
			continue
		}
		s.dispatch(ctx, reqs)
	}
}

// dispatch runs the handler for one batch on the worker goroutine. The
// handler's context is detached from the stop signal so that Stop never
// aborts a batch midway.
func (s *Scheduler) dispatch(ctx context.Context, reqs []*domain.Request) {
	batch := &domain.Batch{
		ID:       uuid.NewString(),
		Requests: reqs,
		FormedAt: time.Now(),
	}

	for _, req := range reqs {
		if req.PastDeadline(batch.FormedAt) {
			metrics.RequestsPastDeadlineTotal.Inc()
		}
	}

	hctx := context.WithoutCancel(ctx)
	if s.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, s.cfg.HandlerTimeout)
		defer cancel()
	}

	hctx, span := s.tracer.Start(hctx, "batcher.HandleBatch", trace.WithAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.Int("batch.size", len(reqs)),
	))
	defer span.End()

	s.batches.Add(1)
	s.requests.Add(int64(len(reqs)))
	s.lastBatchSize.Store(int64(len(reqs)))
	metrics.BatchSize.Observe(float64(len(reqs)))

	start := time.Now()
	err := s.invoke(hctx, batch)
	metrics.BatchHandlerDurationSeconds.Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.BatchesTotal.WithLabelValues("success").Inc()
		span.SetStatus(codes.Ok, "batch handled")
		return
	}

	failure := &domain.HandlerFailure{BatchID: batch.ID, Size: len(reqs), Err: err}
	s.failures.Add(1)
	metrics.BatchesTotal.WithLabelValues("failed").Inc()
	span.RecordError(failure)
	span.SetStatus(codes.Error, "batch handler failed")
	s.logger.Error("batch handler failed",
		zap.String("batch_id", batch.ID),
		zap.Int("batch_size", len(reqs)),
		zap.Error(err),
	)

	if s.reporter != nil {
		s.reporter.ReportBatchFailure(hctx, batch, failure)
	}
}

// invoke calls the handler and turns a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, batch *domain.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.HandleBatch(ctx, batch)
}
