package server

import (
	vaultrpc "coldvault/pkg/api/vaultrpc/v1"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
)

// NewGRPCServer 组装 gRPC Server: 拦截器 + VaultService + Health + Reflection
func NewGRPCServer(vs *VaultServer, opts ...grpc.ServerOption) *grpc.Server {
	ic := NewInterceptors(vs.logger)
	opts = append([]grpc.ServerOption{
		// Logging 在外层，Recovery 把 panic 转换成 Internal 后仍然会被记录
		grpc.ChainUnaryInterceptor(ic.Unary, ic.UnaryRecovery),
		grpc.ChainStreamInterceptor(ic.Stream, ic.StreamRecovery),
	}, opts...)

	s := grpc.NewServer(opts...)
	vs.Register(s)

	hs := health.NewServer()
	hs.SetServingStatus(vaultrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	// Reflection 只暴露有 proto 描述符的服务 (health / reflection 本身)
	// VaultService 是 CBOR 编码的，grpcurl 无法描述它
	rs := reflection.NewServerV1(reflection.ServerOptions{Services: protoServices{s}})
	reflectionpb.RegisterServerReflectionServer(s, rs)
	return s
}

// protoServices 从服务列表里去掉没有 proto 描述符的 VaultService
type protoServices struct {
	*grpc.Server
}

func (p protoServices) GetServiceInfo() map[string]grpc.ServiceInfo {
	info := p.Server.GetServiceInfo()
	delete(info, vaultrpc.ServiceName)
	return info
}
