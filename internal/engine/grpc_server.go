package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/infra/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	gatewayServiceName = "governance.v1.GatewayService"

	GatewayProcessMethod = "/" + gatewayServiceName + "/ProcessRequest"
	GatewayStatusMethod  = "/" + gatewayServiceName + "/Status"
)

// GatewayServer контракт gRPC-сервиса шлюза. Сообщения - google.protobuf.Struct
// с теми же полями, что и JSON в HTTP API.
type GatewayServer interface {
	ProcessRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// GatewayServiceDesc описание сервиса без сгенерированного кода
var GatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: gatewayServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessRequest", Handler: gatewayUnary(GatewayProcessMethod, GatewayServer.ProcessRequest)},
		{MethodName: "Status", Handler: gatewayUnary(GatewayStatusMethod, GatewayServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "governance/v1/gateway.proto",
}

type gatewayMethod func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func gatewayUnary(fullMethod string, call gatewayMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(GatewayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterGatewayServer регистрирует реализацию на grpc.Server
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&GatewayServiceDesc, srv)
}

type GRPCGatewayServer struct {
	pipeline *Pipeline
}

func NewGRPCGatewayServer(p *Pipeline) *GRPCGatewayServer {
	return &GRPCGatewayServer{pipeline: p}
}

func (s *GRPCGatewayServer) ProcessRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	// 1. Struct -> доменный запрос (через JSON, поля совпадают с HTTP API)
	var req domain.Request
	if err := convert(in.AsMap(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	// 2. Личность вызывающего берется из токена
	auth.ApplyClaims(ctx, &req.Context)

	// 3. Тот же пайплайн, что и для HTTP
	res := s.pipeline.ProcessRequest(ctx, &req)

	// 4. Собираем ответ обратно в Protobuf; отказ политики - это ответ, а не ошибка транспорта
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func (s *GRPCGatewayServer) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toStruct(s.pipeline.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func convert(from interface{}, to interface{}) error {
	raw, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, to)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	var m map[string]interface{}
	if err := convert(v, &m); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return structpb.NewStruct(m)
}
