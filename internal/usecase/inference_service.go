// internal/usecase/inference_service.go
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"athena/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InferenceService turns the fire-and-forget dispatch queue into a
// request/response API. Submit parks the caller on a one-shot channel keyed by
// request id, and HandleBatch, running as the scheduler's handler, routes each
// result back to its caller.
//
// A waiter is bound to the exact request it enqueued, not just the id, so a
// result for an abandoned submission never reaches a later one that reused
// the id.
type InferenceService struct {
	producer domain.Producer
	executor domain.BatchExecutor
	logger   *zap.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	pending map[string]*waiter
}

// waiter is one in-flight submission.
type waiter struct {
	req *domain.Request
	ch  chan *domain.Result
}

var _ domain.BatchHandler = (*InferenceService)(nil)

// NewInferenceService creates a new InferenceService instance.
func NewInferenceService(producer domain.Producer, executor domain.BatchExecutor, logger *zap.Logger) *InferenceService {
	return &InferenceService{
		producer: producer,
		executor: executor,
		logger:   logger.With(zap.String("component", "inference-service")),
		tracer:   otel.Tracer("athena-usecase"),
		pending:  make(map[string]*waiter),
	}
}

// Submit enqueues req and waits for its result. The request id must not be in
// flight already. If ctx ends first the caller stops waiting, but the request
// stays queued and its result is dropped when it arrives. The id may be reused
// right away.
func (s *InferenceService) Submit(ctx context.Context, req *domain.Request) (*domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "service.Submit")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	// Each submission enqueues its own copy, which identifies it on delivery.
	submitted := &domain.Request{ID: req.ID, Payload: req.Payload, Deadline: req.Deadline}
	w, err := s.register(submitted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request id already in flight")
		return nil, err
	}

	start := time.Now()
	if err := s.producer.Enqueue(ctx, submitted); err != nil {
		s.unregister(w)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue request")
		return nil, err
	}

	select {
	case res := <-w.ch:
		span.SetAttributes(
			attribute.String("batch.id", res.BatchID),
			attribute.Int("batch.size", res.BatchSize),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "request failed")
			return res, res.Err
		}
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		return res, nil
	case <-ctx.Done():
		s.unregister(w)
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "caller gave up waiting")
		return nil, ctx.Err()
	}
}

// HandleBatch implements domain.BatchHandler. Every waiter in the batch gets
// exactly one result: its own, a HandlerFailure when the executor failed, or
// ErrNoResult when the executor skipped it.
func (s *InferenceService) HandleBatch(ctx context.Context, batch *domain.Batch) error {
	results, err := s.execute(ctx, batch)
	if err != nil {
		failure := &domain.HandlerFailure{BatchID: batch.ID, Size: batch.Len(), Err: err}
		for _, req := range batch.Requests {
			s.deliver(req, &domain.Result{
				RequestID: req.ID,
				BatchID:   batch.ID,
				BatchSize: batch.Len(),
				Err:       failure,
			})
		}
		return err
	}

	byID := make(map[string]*domain.Result, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		byID[res.RequestID] = res
	}

	for _, req := range batch.Requests {
		res, ok := byID[req.ID]
		if !ok {
			res = &domain.Result{RequestID: req.ID, Err: domain.ErrNoResult}
		}
		delete(byID, req.ID)
		res.BatchID = batch.ID
		res.BatchSize = batch.Len()
		s.deliver(req, res)
	}

	for id := range byID {
		s.logger.Warn("executor returned a result for a request outside the batch",
			zap.String("batch_id", batch.ID),
			zap.String("request_id", id),
		)
	}
	return nil
}

// FailPending hands err to every caller still waiting. Used on shutdown for
// requests that will never be batched.
func (s *InferenceService) FailPending(err error) int {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*waiter)
	s.mu.Unlock()

	for id, w := range pending {
		w.ch <- &domain.Result{RequestID: id, Err: err}
	}
	if len(pending) > 0 {
		s.logger.Info("failed pending requests", zap.Int("count", len(pending)), zap.Error(err))
	}
	return len(pending)
}

// Pending returns the number of callers waiting for a result.
func (s *InferenceService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// execute runs the executor, turning a panic into an error so that waiters
// are still answered.
func (s *InferenceService) execute(ctx context.Context, batch *domain.Batch) (results []*domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.executor.Execute(ctx, batch)
}

func (s *InferenceService) register(req *domain.Request) (*waiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[req.ID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, req.ID)
	}
	w := &waiter{req: req, ch: make(chan *domain.Result, 1)}
	s.pending[req.ID] = w
	return w, nil
}

// unregister removes w if it still owns its id.
func (s *InferenceService) unregister(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[w.req.ID] == w {
		delete(s.pending, w.req.ID)
	}
}

// deliver hands res to the waiter that enqueued req. Results for abandoned
// submissions are dropped.
func (s *InferenceService) deliver(req *domain.Request, res *domain.Result) {
	s.mu.Lock()
	w, ok := s.pending[req.ID]
	if ok && w.req != req {
		ok = false
	}
	if ok {
		delete(s.pending, req.ID)
	}
	s.mu.Unlock()

	if !ok {
		// Caller gave up.
		return
	}
	w.ch <- res
}
