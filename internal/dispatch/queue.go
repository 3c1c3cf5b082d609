// internal/dispatch/queue.go
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"athena/internal/domain"
	"athena/internal/metrics"

	"go.uber.org/zap"
)

// Options configures a Queue. The zero value is an unbounded queue.
type Options struct {
	// Capacity is the maximum number of queued requests. 0 means unbounded.
	Capacity int
	// Overflow selects the bounded-mode behaviour. Defaults to OverflowReject.
	Overflow domain.OverflowPolicy
}

// entry is a queued request plus the queue's own bookkeeping. The request
// itself is never written to, so producers may keep reading it.
type entry struct {
	req        *domain.Request
	enqueuedAt time.Time
}

// Queue is a mutex-guarded FIFO of pending requests with a blocking,
// timeout-bounded batch pop. It assumes a single consumer.
//
// Wakeups go through one-slot channels instead of a sync.Cond so that a
// waiting consumer can also select on its context.
type Queue struct {
	mu       sync.Mutex
	items    []entry
	capacity int
	overflow domain.OverflowPolicy
	closed   bool

	notify    chan struct{} // an item became available
	space     chan struct{} // a slot became free (bounded + block only)
	done      chan struct{} // closed by Close
	closeOnce sync.Once

	logger *zap.Logger
}

var _ domain.DispatchQueue = (*Queue)(nil)

// NewQueue creates a dispatch queue.
func NewQueue(opts Options, logger *zap.Logger) (*Queue, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("%w: queue capacity cannot be negative, got %d", domain.ErrInvalidConfiguration, opts.Capacity)
	}
	switch opts.Overflow {
	case "":
		opts.Overflow = domain.OverflowReject
	case domain.OverflowReject, domain.OverflowBlock:
	default:
		return nil, fmt.Errorf("%w: unknown overflow policy %q", domain.ErrInvalidConfiguration, opts.Overflow)
	}

	return &Queue{
		capacity: opts.Capacity,
		overflow: opts.Overflow,
		notify:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "dispatch-queue")),
	}, nil
}

// Enqueue appends req to the tail and wakes the consumer if it is waiting.
func (q *Queue) Enqueue(ctx context.Context, req *domain.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			metrics.RequestsEnqueuedTotal.WithLabelValues("closed").Inc()
			return domain.ErrQueueClosed
		}

		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, entry{req: req, enqueuedAt: time.Now()})
			hasRoom := q.capacity == 0 || len(q.items) < q.capacity
			q.mu.Unlock()

			signal(q.notify)
			// Pass the wakeup on so other blocked producers get a chance at the remaining room.
			if q.overflow == domain.OverflowBlock && q.capacity > 0 && hasRoom {
				signal(q.space)
			}
			metrics.RequestsEnqueuedTotal.WithLabelValues("accepted").Inc()
			return nil
		}

		if q.overflow != domain.OverflowBlock {
			q.mu.Unlock()
			metrics.RequestsEnqueuedTotal.WithLabelValues("full").Inc()
			return domain.ErrQueueFull
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
		case <-ctx.Done():
			metrics.RequestsEnqueuedTotal.WithLabelValues("cancelled").Inc()
			return ctx.Err()
		}
	}
}

// DequeueBatch pops up to maxItems requests from the head.
//
// If the queue is empty it waits until an item arrives, maxWait elapses, the
// queue is closed or ctx is done. Once the wait is over, every request that is
// available (up to maxItems) is drained; the timeout is not re-checked while
// draining. An empty, nil-error result means nothing arrived in time.
//
// A cancelled ctx returns ctx.Err() and leaves queued requests in place. A
// closed and empty queue returns domain.ErrQueueClosed.
func (q *Queue) DequeueBatch(ctx context.Context, maxItems int, maxWait time.Duration) ([]*domain.Request, error) {
	if maxItems < 1 {
		return nil, fmt.Errorf("%w: max items must be at least 1, got %d", domain.ErrInvalidConfiguration, maxItems)
	}
	if maxWait < 0 {
		return nil, fmt.Errorf("%w: max wait cannot be negative, got %s", domain.ErrInvalidConfiguration, maxWait)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if len(q.items) == 0 {
		if q.closed {
			q.mu.Unlock()
			return nil, domain.ErrQueueClosed
		}
		q.mu.Unlock()

		if err := q.waitForItem(ctx, maxWait); err != nil {
			return nil, err
		}
		q.mu.Lock()
	}

	drained := q.drainLocked(maxItems)
	freed := len(drained) > 0 && q.capacity > 0
	q.mu.Unlock()

	if freed && q.overflow == domain.OverflowBlock {
		signal(q.space)
	}
	if len(drained) == 0 {
		return nil, nil
	}

	now := time.Now()
	batch := make([]*domain.Request, len(drained))
	for i, e := range drained {
		batch[i] = e.req
		metrics.QueueWaitSeconds.Observe(now.Sub(e.enqueuedAt).Seconds())
	}
	return batch, nil
}

// waitForItem blocks until the queue may be non-empty. Notification tokens
// can be stale (left over from items already drained), so the queue is
// re-checked after each one.
func (q *Queue) waitForItem(ctx context.Context, maxWait time.Duration) error {
	if maxWait == 0 {
		return nil
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if q.Size() > 0 {
				return nil
			}
		case <-timer.C:
			return nil
		case <-q.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainLocked must be called with q.mu held.
func (q *Queue) drainLocked(maxItems int) []entry {
	n := len(q.items)
	if n == 0 {
		return nil
	}
	if n > maxItems {
		n = maxItems
	}

	drained := make([]entry, n)
	copy(drained, q.items[:n])
	for i := 0; i < n; i++ {
		q.items[i] = entry{}
	}
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return drained
}

// Size returns the current number of queued requests. The value can be stale
// by the time the caller looks at it; use it for metrics only.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting requests and wakes any blocked consumer or producer.
// Requests already queued can still be drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		remaining := len(q.items)
		q.mu.Unlock()
		close(q.done)
		q.logger.Info("dispatch queue closed", zap.Int("remaining", remaining))
	})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
