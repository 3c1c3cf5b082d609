// internal/infra/http/remote_executor.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"athena/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type batchRequest struct {
	BatchID  string          `json:"batch_id"`
	Requests []*requestEntry `json:"requests"`
}

type requestEntry struct {
	ID       string    `json:"id"`
	Payload  []byte    `json:"payload"`
	Deadline time.Time `json:"deadline,omitempty"`
}

type batchResponse struct {
	Results []*resultEntry `json:"results"`
}

type resultEntry struct {
	RequestID string `json:"request_id"`
	Output    []byte `json:"output"`
	Error     string `json:"error,omitempty"`
}

// RemoteExecutor hands a whole batch to an external model server over HTTP.
// A batch is posted exactly once: the server may have side effects, so failed
// calls are never retried.
type RemoteExecutor struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

var _ domain.BatchExecutor = (*RemoteExecutor)(nil)

// NewRemoteExecutor creates an executor posting to url.
func NewRemoteExecutor(url string, timeout time.Duration, logger *zap.Logger) *RemoteExecutor {
	return &RemoteExecutor{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(zap.String("component", "remote-executor")),
	}
}

// Execute implements domain.BatchExecutor.
func (e *RemoteExecutor) Execute(ctx context.Context, batch *domain.Batch) ([]*domain.Result, error) {
	start := time.Now()

	payload := batchRequest{BatchID: batch.ID, Requests: make([]*requestEntry, 0, batch.Len())}
	for _, r := range batch.Requests {
		payload.Requests = append(payload.Requests, &requestEntry{ID: r.ID, Payload: r.Payload, Deadline: r.Deadline})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Read a small portion of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("engine returned 5xx server error: %s: %s", resp.Status, bytes.TrimSpace(snippet))
		}
		return nil, fmt.Errorf("engine returned 4xx client error: %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode engine response: %w", err)
	}

	elapsed := time.Since(start)
	results := make([]*domain.Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		res := &domain.Result{
			RequestID: r.RequestID,
			Output:    r.Output,
			BatchID:   batch.ID,
			BatchSize: batch.Len(),
			Latency:   elapsed,
		}
		if r.Error != "" {
			res.Err = errors.New(r.Error)
		}
		results = append(results, res)
	}

	e.logger.Debug("remote batch executed",
		zap.String("batch_id", batch.ID),
		zap.Int("batch_size", batch.Len()),
		zap.Int("results", len(results)),
		zap.Duration("took", elapsed),
	)
	return results, nil
}
