package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"athena/internal/dispatch"
	"athena/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingHandler remembers every batch it was given.
type recordingHandler struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (h *recordingHandler) HandleBatch(_ context.Context, batch *domain.Batch) error {
	n := h.active.Add(1)
	defer h.active.Add(-1)
	for {
		seen := h.maxSeen.Load()
		if n <= seen || h.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	ids := make([]string, len(batch.Requests))
	for i, r := range batch.Requests {
		ids[i] = r.ID
	}
	h.mu.Lock()
	h.batches = append(h.batches, ids)
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) snapshot() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]string, len(h.batches))
	copy(out, h.batches)
	return out
}

func (h *recordingHandler) total() int {
	n := 0
	for _, b := range h.snapshot() {
		n += len(b)
	}
	return n
}

func newQueue(t *testing.T) *dispatch.Queue {
	t.Helper()
	q, err := dispatch.NewQueue(dispatch.Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func newScheduler(t *testing.T, cfg Config, q domain.BatchSource, h domain.BatchHandler, r domain.FailureReporter) *Scheduler {
	t.Helper()
	s, err := NewScheduler(cfg, q, h, r, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func enqueueN(t *testing.T, q *dispatch.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), &domain.Request{ID: fmt.Sprint(i)}))
	}
}

func TestNewScheduler_InvalidConfiguration(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}

	tests := map[string]struct {
		cfg     Config
		source  domain.BatchSource
		handler domain.BatchHandler
	}{
		"zero batch size":          {cfg: Config{MaxBatchSize: 0, MaxWait: time.Millisecond}, source: q, handler: h},
		"negative max wait":        {cfg: Config{MaxBatchSize: 1, MaxWait: -time.Millisecond}, source: q, handler: h},
		"negative handler timeout": {cfg: Config{MaxBatchSize: 1, HandlerTimeout: -time.Second}, source: q, handler: h},
		"nil source":               {cfg: Config{MaxBatchSize: 1}, source: nil, handler: h},
		"nil handler":              {cfg: Config{MaxBatchSize: 1}, source: q, handler: nil},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewScheduler(test.cfg, test.source, test.handler, nil, zaptest.NewLogger(t))
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestScheduler_GroupsUpToMaxSize(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	s := newScheduler(t, Config{MaxBatchSize: 4, MaxWait: 50 * time.Millisecond}, q, h, nil)

	enqueueN(t, q, 10)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return h.total() == 10 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	batches := h.snapshot()
	sizes := make([]int, len(batches))
	var order []string
	for i, b := range batches {
		sizes[i] = len(b)
		order = append(order, b...)
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, order)

	stats := s.Stats()
	assert.EqualValues(t, 3, stats.Batches)
	assert.EqualValues(t, 10, stats.Requests)
	assert.EqualValues(t, 2, stats.LastBatchSize)
}

func TestScheduler_SingleRequestIsNotHeldIndefinitely(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	s := newScheduler(t, Config{MaxBatchSize: 4, MaxWait: 50 * time.Millisecond}, q, h, nil)

	require.NoError(t, s.Start())
	// Give the worker time to enter its wait.
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	enqueueN(t, q, 1)

	require.Eventually(t, func() bool { return h.total() == 1 }, time.Second, time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, [][]string{{"0"}}, h.snapshot(), "exactly one batch of size 1")
}

func TestScheduler_FailingHandlerKeepsDraining(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{err: errors.New("engine exploded")}
	failures := NewFailureLog(10)
	s := newScheduler(t, Config{MaxBatchSize: 4, MaxWait: 20 * time.Millisecond}, q, h, failures)

	enqueueN(t, q, 10)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return h.total() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Running(), "worker must survive handler failures")

	assert.Len(t, h.snapshot(), 3)
	assert.EqualValues(t, 3, s.Stats().Failures)
	require.Eventually(t, func() bool { return failures.Total() == 3 }, time.Second, time.Millisecond)

	recent := failures.Recent()
	assert.Equal(t, []string{"0", "1", "2", "3"}, recent[0].RequestIDs)
	assert.Contains(t, recent[0].Error, "engine exploded")

	// Later batches still reach the handler.
	require.NoError(t, q.Enqueue(context.Background(), &domain.Request{ID: "after"}))
	require.Eventually(t, func() bool { return h.total() == 11 }, time.Second, time.Millisecond)
}

func TestScheduler_PanickingHandlerIsIsolated(t *testing.T) {
	q := newQueue(t)
	var calls atomic.Int32
	handler := domain.BatchHandlerFunc(func(ctx context.Context, batch *domain.Batch) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	failures := NewFailureLog(10)
	s := newScheduler(t, Config{MaxBatchSize: 1, MaxWait: 10 * time.Millisecond}, q, handler, failures)

	enqueueN(t, q, 2)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, failures.Total())
	assert.Contains(t, failures.Recent()[0].Error, "handler panic: boom")

	require.Eventually(t, func() bool { return s.Stats().Failures == 1 }, time.Second, time.Millisecond)
	assert.True(t, s.Running())
}

func TestScheduler_StopIsPromptWhileWaiting(t *testing.T) {
	q := newQueue(t)
	s := newScheduler(t, Config{MaxBatchSize: 4, MaxWait: 10 * time.Second}, q, &recordingHandler{}, nil)

	require.NoError(t, s.Start())
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond, "stop must not wait out max wait")
	assert.False(t, s.Running())
}

func TestScheduler_StopLetsInFlightHandlerFinish(t *testing.T) {
	q := newQueue(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	handler := domain.BatchHandlerFunc(func(ctx context.Context, batch *domain.Batch) error {
		close(entered)
		<-release
		assert.NoError(t, ctx.Err(), "stop must not cancel the handler's context")
		finished.Store(true)
		return nil
	})
	s := newScheduler(t, Config{MaxBatchSize: 4, MaxWait: 10 * time.Millisecond}, q, handler, nil)

	enqueueN(t, q, 1)
	require.NoError(t, s.Start())
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while the handler was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after the handler finished")
	}
	assert.True(t, finished.Load())
}

func TestScheduler_LifecycleIsIdempotent(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	s := newScheduler(t, Config{MaxBatchSize: 2, MaxWait: 10 * time.Millisecond}, q, h, nil)

	s.Stop()
	assert.False(t, s.Running())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.Running())

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())

	// Restart after stop.
	require.NoError(t, s.Start())
	enqueueN(t, q, 3)
	require.Eventually(t, func() bool { return h.total() == 3 }, time.Second, time.Millisecond)
	s.Stop()
}

func TestScheduler_HandlerRunsOneBatchAtATime(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	slow := domain.BatchHandlerFunc(func(ctx context.Context, batch *domain.Batch) error {
		time.Sleep(2 * time.Millisecond)
		return h.HandleBatch(ctx, batch)
	})
	s := newScheduler(t, Config{MaxBatchSize: 3, MaxWait: 5 * time.Millisecond}, q, slow, nil)
	require.NoError(t, s.Start())

	enqueueN(t, q, 30)
	require.Eventually(t, func() bool { return h.total() == 30 }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 1, h.maxSeen.Load())
	for _, b := range h.snapshot() {
		assert.LessOrEqual(t, len(b), 3)
		assert.NotEmpty(t, b)
	}
}

func TestScheduler_HandlerTimeout(t *testing.T) {
	q := newQueue(t)
	deadlines := make(chan bool, 1)
	handler := domain.BatchHandlerFunc(func(ctx context.Context, batch *domain.Batch) error {
		_, ok := ctx.Deadline()
		deadlines <- ok
		<-ctx.Done()
		return ctx.Err()
	})
	failures := NewFailureLog(1)
	s := newScheduler(t, Config{MaxBatchSize: 1, MaxWait: time.Millisecond, HandlerTimeout: 20 * time.Millisecond}, q, handler, failures)

	enqueueN(t, q, 1)
	require.NoError(t, s.Start())

	select {
	case ok := <-deadlines:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}
	require.Eventually(t, func() bool { return failures.Total() == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, failures.Recent()[0].Error, context.DeadlineExceeded.Error())
}

func TestScheduler_ZeroMaxWaitStillServesLateArrivals(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	s := newScheduler(t, Config{MaxBatchSize: 8, MaxWait: 0}, q, h, nil)
	require.NoError(t, s.Start())

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	enqueueN(t, q, 5)
	require.Eventually(t, func() bool { return h.total() == 5 }, time.Second, time.Millisecond)
	// Served by the arrival, not by the idle park running out.
	assert.Less(t, time.Since(start), idleWait/2)
}

func TestScheduler_ExitsWhenSourceClosed(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	s := newScheduler(t, Config{MaxBatchSize: 4, MaxWait: time.Second}, q, h, nil)

	enqueueN(t, q, 2)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return h.total() == 2 }, time.Second, time.Millisecond)

	q.Close()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)
	s.Stop()
}

func TestScheduler_ConservationUnderConcurrentProducers(t *testing.T) {
	q := newQueue(t)
	h := &recordingHandler{}
	s := newScheduler(t, Config{MaxBatchSize: 7, MaxWait: 2 * time.Millisecond}, q, h, nil)
	require.NoError(t, s.Start())

	const producers = 6
	const perProducer = 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(context.Background(), &domain.Request{ID: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return h.total() == producers*perProducer }, 5*time.Second, 5*time.Millisecond)
	s.Stop()

	next := make(map[int]int)
	seen := make(map[string]bool)
	for _, b := range h.snapshot() {
		require.NotEmpty(t, b)
		require.LessOrEqual(t, len(b), 7)
		for _, id := range b {
			require.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
			var p, i int
			_, err := fmt.Sscanf(id, "%d-%d", &p, &i)
			require.NoError(t, err)
			require.Equal(t, next[p], i, "producer %d out of order", p)
			next[p]++
		}
	}
	assert.Len(t, seen, producers*perProducer)
}
