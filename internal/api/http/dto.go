// internal/api/http/dto.go
package http

import (
	"time"

	"athena/internal/domain"
)

// InferRequest is the body of POST /v1/infer.
type InferRequest struct {
	RequestID  string `json:"request_id" validate:"omitempty,max=128"`
	Payload    string `json:"payload"`
	DeadlineMs int64  `json:"deadline_ms" validate:"gte=0"`
}

// ToDomainRequest converts the DTO. requestID is used when the client sent none.
func (r *InferRequest) ToDomainRequest(requestID string, now time.Time) *domain.Request {
	req := &domain.Request{
		ID:      r.RequestID,
		Payload: []byte(r.Payload),
	}
	if req.ID == "" {
		req.ID = requestID
	}
	if r.DeadlineMs > 0 {
		req.Deadline = now.Add(time.Duration(r.DeadlineMs) * time.Millisecond)
	}
	return req
}

// InferResponse is the answer to POST /v1/infer.
type InferResponse struct {
	RequestID string  `json:"request_id"`
	Output    string  `json:"output"`
	BatchID   string  `json:"batch_id"`
	BatchSize int     `json:"batch_size"`
	LatencyMs float64 `json:"latency_ms"`
	Status    string  `json:"status"`
}

// NewInferResponse converts a domain result.
func NewInferResponse(res *domain.Result) *InferResponse {
	return &InferResponse{
		RequestID: res.RequestID,
		Output:    string(res.Output),
		BatchID:   res.BatchID,
		BatchSize: res.BatchSize,
		LatencyMs: float64(res.Latency) / float64(time.Millisecond),
		Status:    "ok",
	}
}

// LoadModelRequest is the body of POST /v1/models/load.
type LoadModelRequest struct {
	ModelName string `json:"model_name" validate:"required,min=1,max=128"`
	Version   string `json:"version" validate:"required,min=1,max=64"`
}

// UnloadModelRequest is the body of POST /v1/models/unload. An empty version
// unloads whatever version is recorded.
type UnloadModelRequest struct {
	ModelName string `json:"model_name" validate:"required,min=1,max=128"`
	Version   string `json:"version" validate:"omitempty,max=64"`
}

// QueueResponse is the answer to GET /v1/queue.
type QueueResponse struct {
	Depth          int                `json:"depth"`
	Pending        int                `json:"pending"`
	Running        bool               `json:"running"`
	MaxBatchSize   int                `json:"max_batch_size"`
	MaxWaitMs      float64            `json:"max_wait_ms"`
	Batches        int64              `json:"batches"`
	Requests       int64              `json:"requests"`
	Failures       int64              `json:"failures"`
	LastBatchSize  int64              `json:"last_batch_size"`
	RecentFailures []*FailureResponse `json:"recent_failures"`
}

// FailureResponse is one failed batch in QueueResponse.
type FailureResponse struct {
	BatchID    string    `json:"batch_id"`
	Size       int       `json:"size"`
	RequestIDs []string  `json:"request_ids"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
