package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"athena/internal/batcher"
	"athena/internal/dispatch"
	"athena/internal/domain"
	"athena/internal/infra/memory"
	"athena/internal/inference"
	"athena/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testNode struct {
	mux       *http.ServeMux
	queue     *dispatch.Queue
	scheduler *batcher.Scheduler
}

func newTestNode(t *testing.T, opts dispatch.Options, start bool) *testNode {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := batcher.Config{MaxBatchSize: 4, MaxWait: 5 * time.Millisecond}

	q, err := dispatch.NewQueue(opts, logger)
	require.NoError(t, err)
	svc := usecase.NewInferenceService(q, inference.NewEngine(time.Millisecond, 0, logger), logger)
	failures := batcher.NewFailureLog(4)
	sched, err := batcher.NewScheduler(cfg, q, svc, failures, logger)
	require.NoError(t, err)
	if start {
		require.NoError(t, sched.Start())
	}
	t.Cleanup(func() {
		q.Close()
		sched.Stop()
	})

	models := usecase.NewModelService(memory.NewModelRepository(), memory.NewLocker(), logger)
	monitor := usecase.NewQueueMonitor(q, sched, failures, svc, cfg)

	mux := http.NewServeMux()
	NewHandler(svc, models, monitor, logger).RegisterRoutes(mux)
	return &testNode{mux: mux, queue: q, scheduler: sched}
}

func (n *testNode) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	n.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Infer(t *testing.T) {
	n := newTestNode(t, dispatch.Options{}, true)

	rec := n.do(t, http.MethodPost, "/v1/infer", InferRequest{RequestID: "r1", Payload: "hello", DeadlineMs: 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp InferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "hello", resp.Output)
	assert.Equal(t, 1, resp.BatchSize)
	assert.Equal(t, "ok", resp.Status)

	rec = n.do(t, http.MethodPost, "/v1/infer", InferRequest{Payload: "anon"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID, "a request id is generated")
}

func TestHandler_InferRejections(t *testing.T) {
	t.Run("bad json", func(t *testing.T) {
		n := newTestNode(t, dispatch.Options{}, true)
		rec := n.do(t, http.MethodPost, "/v1/infer", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative deadline", func(t *testing.T) {
		n := newTestNode(t, dispatch.Options{}, true)
		rec := n.do(t, http.MethodPost, "/v1/infer", InferRequest{DeadlineMs: -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Validation failed", resp.Error)
		assert.NotEmpty(t, resp.Details)
	})

	t.Run("queue full", func(t *testing.T) {
		// Scheduler not started: the single slot stays occupied.
		n := newTestNode(t, dispatch.Options{Capacity: 1}, false)
		require.NoError(t, n.queue.Enqueue(context.Background(), &domain.Request{ID: "filler"}))

		rec := n.do(t, http.MethodPost, "/v1/infer", InferRequest{RequestID: "r2"})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("queue closed", func(t *testing.T) {
		n := newTestNode(t, dispatch.Options{}, true)
		n.queue.Close()
		rec := n.do(t, http.MethodPost, "/v1/infer", InferRequest{RequestID: "r3"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandler_Models(t *testing.T) {
	n := newTestNode(t, dispatch.Options{}, true)

	rec := n.do(t, http.MethodGet, "/v1/models/resnet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var model domain.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &model))
	assert.Equal(t, domain.ModelStatusNotLoaded, model.Status)

	rec = n.do(t, http.MethodPost, "/v1/models/load", LoadModelRequest{ModelName: "resnet", Version: "v1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = n.do(t, http.MethodGet, "/v1/models/resnet", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &model))
	assert.Equal(t, domain.ModelStatusLoaded, model.Status)
	assert.Equal(t, "v1", model.Version)

	rec = n.do(t, http.MethodGet, "/v1/models", nil)
	var models []domain.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Len(t, models, 1)

	rec = n.do(t, http.MethodPost, "/v1/models/unload", UnloadModelRequest{ModelName: "resnet"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &model))
	assert.Equal(t, domain.ModelStatusNotLoaded, model.Status)

	rec = n.do(t, http.MethodPost, "/v1/models/unload", UnloadModelRequest{ModelName: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = n.do(t, http.MethodPost, "/v1/models/load", LoadModelRequest{ModelName: "resnet"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_QueueAndHealth(t *testing.T) {
	n := newTestNode(t, dispatch.Options{}, true)

	rec := n.do(t, http.MethodPost, "/v1/infer", InferRequest{RequestID: "q1", Payload: "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = n.do(t, http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.True(t, q.Running)
	assert.Equal(t, 4, q.MaxBatchSize)
	assert.Equal(t, 5.0, q.MaxWaitMs)
	assert.EqualValues(t, 1, q.Requests)
	assert.NotNil(t, q.RecentFailures)

	rec = n.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	n.scheduler.Stop()
	rec = n.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_Metrics(t *testing.T) {
	n := newTestNode(t, dispatch.Options{}, true)
	n.do(t, http.MethodGet, "/healthz", nil)

	rec := n.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "athena_http_requests_total"))
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	n := newTestNode(t, dispatch.Options{}, true)
	rec := n.do(t, http.MethodGet, "/v1/infer", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusCode(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"invalid":   {domain.ErrInvalidRequest, http.StatusBadRequest},
		"duplicate": {domain.ErrDuplicateRequest, http.StatusConflict},
		"locked":    {domain.ErrLockNotAcquired, http.StatusConflict},
		"full":      {domain.ErrQueueFull, http.StatusTooManyRequests},
		"closed":    {domain.ErrQueueClosed, http.StatusServiceUnavailable},
		"not found": {domain.ErrModelNotFound, http.StatusNotFound},
		"deadline":  {context.DeadlineExceeded, http.StatusGatewayTimeout},
		"batch":     {&domain.HandlerFailure{Err: errors.New("x")}, http.StatusBadGateway},
		"no result": {domain.ErrNoResult, http.StatusBadGateway},
		"other":     {errors.New("x"), http.StatusInternalServerError},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, statusCode(test.err))
		})
	}
}
