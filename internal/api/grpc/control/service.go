package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "kiosk.v1.ControlService"

// Full method names.
const (
	StartMethod    = "/" + ServiceName + "/Start"
	SuspendMethod  = "/" + ServiceName + "/Suspend"
	GetStateMethod = "/" + ServiceName + "/GetState"
)

// ControlServer is the server API of kiosk.v1.ControlService.
type ControlServer interface {
	Start(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
	Suspend(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
	GetState(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterControlServer registers srv on the gRPC server.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

//nolint:gochecknoglobals // gRPC service descriptors are package-level by convention.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Start",
			Handler: unaryHandler(StartMethod, func(ctx context.Context, srv ControlServer, req *emptypb.Empty) (any, error) {
				return srv.Start(ctx, req)
			}),
		},
		{
			MethodName: "Suspend",
			Handler: unaryHandler(SuspendMethod, func(ctx context.Context, srv ControlServer, req *emptypb.Empty) (any, error) {
				return srv.Suspend(ctx, req)
			}),
		},
		{
			MethodName: "GetState",
			Handler: unaryHandler(GetStateMethod, func(ctx context.Context, srv ControlServer, req *emptypb.Empty) (any, error) {
				return srv.GetState(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kiosk/v1/control.proto",
}

// unaryHandler adapts a typed method to grpc.MethodHandler, honouring interceptors.
func unaryHandler(
	fullMethod string,
	call func(ctx context.Context, srv ControlServer, req *emptypb.Empty) (any, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(ControlServer)

		if interceptor == nil {
			return call(ctx, server, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(*emptypb.Empty)

			return call(ctx, server, typed)
		}

		return interceptor(ctx, in, info, handler)
	}
}
