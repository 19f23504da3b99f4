package objectrpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "vboxremote.v1.ObjectService"
	// InvokeMethod is the full name of the unary invoke method.
	InvokeMethod = "/" + ServiceName + "/Invoke"
)

// ObjectServer executes calls arriving as structs.
type ObjectServer interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ObjectServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vboxremote/v1/object.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InvokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ObjectServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type server struct {
	backend remote.Backend
	logger  *zap.Logger
}

// Register serves backend on s. Faults are returned in-band; only
// malformed requests fail at the gRPC level.
func Register(s grpc.ServiceRegistrar, backend remote.Backend, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.RegisterService(&serviceDesc, &server{backend: backend, logger: logger})
}

// NewServer creates a gRPC server with tracing and message limits
// matching the client, serving backend.
func NewServer(backend remote.Backend, logger *zap.Logger, tracer *tracing.Tracer) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: false,
		}),
	}
	if tracer != nil {
		opts = append(opts, grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)))
	}
	s := grpc.NewServer(opts...)
	Register(s, backend, logger)
	return s
}

func (s *server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	call, err := structToCall(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed call: %v", err)
	}

	resp, err := s.backend.Handle(tracing.IncomingContext(ctx), call)
	if err != nil {
		s.logger.Debug("Call faulted", zap.String("method", call.Method), zap.Error(err))
	}
	out, err := replyToStruct(remote.ReplyFor(resp, err))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}
