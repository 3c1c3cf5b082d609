// internal/api/grpc/server.go
package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"athena/internal/domain"
	"athena/internal/usecase"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server implements InferenceServer on top of the use cases.
type Server struct {
	inference *usecase.InferenceService
	models    *usecase.ModelService
	monitor   *usecase.QueueMonitor
	logger    *zap.Logger
	tracer    trace.Tracer
}

var _ InferenceServer = (*Server)(nil)

// NewServer creates a new gRPC server for the core node.
func NewServer(inference *usecase.InferenceService, models *usecase.ModelService, monitor *usecase.QueueMonitor, logger *zap.Logger) *Server {
	return &Server{
		inference: inference,
		models:    models,
		monitor:   monitor,
		logger:    logger.With(zap.String("component", "grpc-server")),
		tracer:    otel.Tracer("athena-grpc"),
	}
}

// LoadModel marks a model as loaded on this node.
func (s *Server) LoadModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, version := stringField(in, "model_name"), stringField(in, "version")
	s.logger.Info("load model requested", zap.String("model", name), zap.String("version", version))

	model, err := s.models.Load(ctx, name, version)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"ok":      true,
		"message": fmt.Sprintf("loaded %s:%s", model.Name, model.Version),
		"model":   modelFields(model),
	})
}

// UnloadModel marks a model as not loaded.
func (s *Server) UnloadModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, version := stringField(in, "model_name"), stringField(in, "version")
	s.logger.Info("unload model requested", zap.String("model", name), zap.String("version", version))

	model, err := s.models.Unload(ctx, name, version)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"ok":      true,
		"message": fmt.Sprintf("unloaded %s:%s", model.Name, model.Version),
		"model":   modelFields(model),
	})
}

// GetModelStatus reports a model's state. Unknown models are not_loaded.
func (s *Server) GetModelStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	model, err := s.models.Status(ctx, stringField(in, "model_name"))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(modelFields(model))
}

// RunInference submits one request and waits for its batch to complete.
func (s *Server) RunInference(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := s.tracer.Start(ctx, "grpc.RunInference")
	defer span.End()

	req := &domain.Request{
		ID:      stringField(in, "request_id"),
		Payload: []byte(stringField(in, "payload")),
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if ms := numberField(in, "deadline_ms"); ms > 0 {
		req.Deadline = time.Now().Add(time.Duration(ms * float64(time.Millisecond)))
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	res, err := s.inference.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "inference failed")
		return nil, toStatus(err)
	}

	return newStruct(map[string]any{
		"request_id": res.RequestID,
		"output":     string(res.Output),
		"batch_id":   res.BatchID,
		"batch_size": res.BatchSize,
		"latency_ms": float64(res.Latency) / float64(time.Millisecond),
		"status":     "ok",
	})
}

// QueueStats returns the batching pipeline snapshot.
func (s *Server) QueueStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap := s.monitor.Snapshot()
	return newStruct(map[string]any{
		"depth":           snap.Depth,
		"pending":         snap.Pending,
		"running":         snap.Running,
		"max_batch_size":  snap.MaxBatchSize,
		"max_wait_ms":     float64(snap.MaxWait) / float64(time.Millisecond),
		"batches":         snap.Stats.Batches,
		"requests":        snap.Stats.Requests,
		"failures":        snap.Stats.Failures,
		"last_batch_size": snap.Stats.LastBatchSize,
	})
}

func modelFields(m *domain.Model) map[string]any {
	fields := map[string]any{
		"model_name": m.Name,
		"version":    m.Version,
		"status":     string(m.Status),
	}
	if !m.UpdatedAt.IsZero() {
		fields["updated_at"] = m.UpdatedAt.Format(time.RFC3339Nano)
	}
	return fields
}

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func numberField(in *structpb.Struct, key string) float64 {
	return in.GetFields()[key].GetNumberValue()
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode reply: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	var failure *domain.HandlerFailure
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrQueueClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrModelNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrLockNotAcquired):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.As(err, &failure), errors.Is(err, domain.ErrNoResult):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
