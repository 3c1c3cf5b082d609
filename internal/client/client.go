// internal/client/client.go
package client

import (
	"context"
	"fmt"
	"time"

	grpcapi "athena/internal/api/grpc"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// InferenceReply is the decoded answer to RunInference.
type InferenceReply struct {
	RequestID string  `json:"request_id"`
	Output    string  `json:"output"`
	BatchID   string  `json:"batch_id"`
	BatchSize int     `json:"batch_size"`
	LatencyMs float64 `json:"latency_ms"`
	Status    string  `json:"status"`
}

// ModelReply is the decoded model record returned by the model methods.
type ModelReply struct {
	Name      string `json:"model_name"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CoreClient talks to a core node's gRPC service.
type CoreClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewCoreClient dials target. timeout bounds every call that has no deadline
// of its own; zero means no bound.
func NewCoreClient(target string, timeout time.Duration, opts ...grpc.DialOption) (*CoreClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to core at %s: %w", target, err)
	}
	return &CoreClient{conn: conn, timeout: timeout}, nil
}

// Close releases the connection.
func (c *CoreClient) Close() error {
	return c.conn.Close()
}

// LoadModel asks the core to load name:version.
func (c *CoreClient) LoadModel(ctx context.Context, name, version string) (*ModelReply, error) {
	out, err := c.call(ctx, grpcapi.LoadModelMethod, map[string]any{"model_name": name, "version": version})
	if err != nil {
		return nil, err
	}
	return decodeModel(out.GetFields()["model"].GetStructValue()), nil
}

// UnloadModel asks the core to unload name. version may be empty.
func (c *CoreClient) UnloadModel(ctx context.Context, name, version string) (*ModelReply, error) {
	out, err := c.call(ctx, grpcapi.UnloadModelMethod, map[string]any{"model_name": name, "version": version})
	if err != nil {
		return nil, err
	}
	return decodeModel(out.GetFields()["model"].GetStructValue()), nil
}

// GetModelStatus returns the model's state on the core.
func (c *CoreClient) GetModelStatus(ctx context.Context, name string) (*ModelReply, error) {
	out, err := c.call(ctx, grpcapi.GetModelStatusMethod, map[string]any{"model_name": name})
	if err != nil {
		return nil, err
	}
	return decodeModel(out), nil
}

// RunInference submits one request. An empty requestID lets the core pick
// one; a zero deadline sends none.
func (c *CoreClient) RunInference(ctx context.Context, requestID, payload string, deadline time.Duration) (*InferenceReply, error) {
	in := map[string]any{"request_id": requestID, "payload": payload}
	if deadline > 0 {
		in["deadline_ms"] = float64(deadline) / float64(time.Millisecond)
	}
	out, err := c.call(ctx, grpcapi.RunInferenceMethod, in)
	if err != nil {
		return nil, err
	}
	f := out.GetFields()
	return &InferenceReply{
		RequestID: f["request_id"].GetStringValue(),
		Output:    f["output"].GetStringValue(),
		BatchID:   f["batch_id"].GetStringValue(),
		BatchSize: int(f["batch_size"].GetNumberValue()),
		LatencyMs: f["latency_ms"].GetNumberValue(),
		Status:    f["status"].GetStringValue(),
	}, nil
}

// QueueStats returns the raw queue snapshot.
func (c *CoreClient) QueueStats(ctx context.Context) (map[string]any, error) {
	out, err := c.call(ctx, grpcapi.QueueStatsMethod, map[string]any{})
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *CoreClient) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeModel(s *structpb.Struct) *ModelReply {
	f := s.GetFields()
	return &ModelReply{
		Name:      f["model_name"].GetStringValue(),
		Version:   f["version"].GetStringValue(),
		Status:    f["status"].GetStringValue(),
		UpdatedAt: f["updated_at"].GetStringValue(),
	}
}
