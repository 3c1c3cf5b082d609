// internal/api/grpc/service.go
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are google.protobuf.Struct values so the service needs no
// generated code. The field names are listed next to each method.
const (
	ServiceName = "athena.inference.InferenceService"

	// LoadModelMethod takes {model_name, version} and returns {ok, message, model}.
	LoadModelMethod = "/" + ServiceName + "/LoadModel"
	// UnloadModelMethod takes {model_name, version?} and returns {ok, message, model}.
	UnloadModelMethod = "/" + ServiceName + "/UnloadModel"
	// GetModelStatusMethod takes {model_name} and returns {model_name, version, status}.
	GetModelStatusMethod = "/" + ServiceName + "/GetModelStatus"
	// RunInferenceMethod takes {request_id?, payload, deadline_ms?} and returns
	// {request_id, output, batch_id, batch_size, latency_ms, status}.
	RunInferenceMethod = "/" + ServiceName + "/RunInference"
	// QueueStatsMethod takes {} and returns the queue snapshot.
	QueueStatsMethod = "/" + ServiceName + "/QueueStats"
)

// InferenceServer is the server API for the inference service.
type InferenceServer interface {
	LoadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetModelStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunInference(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueueStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv InferenceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InferenceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InferenceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the inference service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadModel", Handler: unary(LoadModelMethod, InferenceServer.LoadModel)},
		{MethodName: "UnloadModel", Handler: unary(UnloadModelMethod, InferenceServer.UnloadModel)},
		{MethodName: "GetModelStatus", Handler: unary(GetModelStatusMethod, InferenceServer.GetModelStatus)},
		{MethodName: "RunInference", Handler: unary(RunInferenceMethod, InferenceServer.RunInference)},
		{MethodName: "QueueStats", Handler: unary(QueueStatsMethod, InferenceServer.QueueStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "athena/inference.proto",
}

// RegisterInferenceServer registers srv with s.
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
