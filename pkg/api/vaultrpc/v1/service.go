package vaultrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "coldvault.v1.VaultService"

	VaultService_InitiateUpload_FullMethodName = "/" + ServiceName + "/InitiateUpload"
	VaultService_UploadPart_FullMethodName     = "/" + ServiceName + "/UploadPart"
	VaultService_CompleteUpload_FullMethodName = "/" + ServiceName + "/CompleteUpload"
	VaultService_AbortUpload_FullMethodName    = "/" + ServiceName + "/AbortUpload"
	VaultService_Retrieve_FullMethodName       = "/" + ServiceName + "/Retrieve"
)

// =============================================================================
// Client
// =============================================================================

// VaultServiceClient 是 VaultService 的客户端 API
type VaultServiceClient interface {
	InitiateUpload(ctx context.Context, in *InitiateUploadRequest, opts ...grpc.CallOption) (*InitiateUploadResponse, error)
	// UploadPart 第一帧 Header，后续帧是分片数据
	UploadPart(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[UploadPartRequest, UploadPartResponse], error)
	CompleteUpload(ctx context.Context, in *CompleteUploadRequest, opts ...grpc.CallOption) (*CompleteUploadResponse, error)
	AbortUpload(ctx context.Context, in *AbortUploadRequest, opts ...grpc.CallOption) (*AbortUploadResponse, error)
	Retrieve(ctx context.Context, in *RetrieveRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RetrieveResponse], error)
}

type vaultServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewVaultServiceClient(cc grpc.ClientConnInterface) VaultServiceClient {
	return &vaultServiceClient{cc}
}

// callOptions 强制所有调用使用 CBOR 编码
func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *vaultServiceClient) InitiateUpload(ctx context.Context, in *InitiateUploadRequest, opts ...grpc.CallOption) (*InitiateUploadResponse, error) {
	out := new(InitiateUploadResponse)
	err := c.cc.Invoke(ctx, VaultService_InitiateUpload_FullMethodName, in, out, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) UploadPart(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[UploadPartRequest, UploadPartResponse], error) {
	stream, err := c.cc.NewStream(ctx, &VaultService_ServiceDesc.Streams[0], VaultService_UploadPart_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UploadPartRequest, UploadPartResponse]{ClientStream: stream}, nil
}

func (c *vaultServiceClient) CompleteUpload(ctx context.Context, in *CompleteUploadRequest, opts ...grpc.CallOption) (*CompleteUploadResponse, error) {
	out := new(CompleteUploadResponse)
	err := c.cc.Invoke(ctx, VaultService_CompleteUpload_FullMethodName, in, out, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) AbortUpload(ctx context.Context, in *AbortUploadRequest, opts ...grpc.CallOption) (*AbortUploadResponse, error) {
	out := new(AbortUploadResponse)
	err := c.cc.Invoke(ctx, VaultService_AbortUpload_FullMethodName, in, out, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Retrieve(ctx context.Context, in *RetrieveRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RetrieveResponse], error) {
	stream, err := c.cc.NewStream(ctx, &VaultService_ServiceDesc.Streams[1], VaultService_Retrieve_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[RetrieveRequest, RetrieveResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// =============================================================================
// Server
// =============================================================================

// VaultServiceServer 是 VaultService 的服务端 API
type VaultServiceServer interface {
	InitiateUpload(context.Context, *InitiateUploadRequest) (*InitiateUploadResponse, error)
	UploadPart(grpc.ClientStreamingServer[UploadPartRequest, UploadPartResponse]) error
	CompleteUpload(context.Context, *CompleteUploadRequest) (*CompleteUploadResponse, error)
	AbortUpload(context.Context, *AbortUploadRequest) (*AbortUploadResponse, error)
	Retrieve(*RetrieveRequest, grpc.ServerStreamingServer[RetrieveResponse]) error
}

// UnimplementedVaultServiceServer 嵌入到实现中，保证新增方法时向前兼容
type UnimplementedVaultServiceServer struct{}

func (UnimplementedVaultServiceServer) InitiateUpload(context.Context, *InitiateUploadRequest) (*InitiateUploadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method InitiateUpload not implemented")
}
func (UnimplementedVaultServiceServer) UploadPart(grpc.ClientStreamingServer[UploadPartRequest, UploadPartResponse]) error {
	return status.Error(codes.Unimplemented, "method UploadPart not implemented")
}
func (UnimplementedVaultServiceServer) CompleteUpload(context.Context, *CompleteUploadRequest) (*CompleteUploadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CompleteUpload not implemented")
}
func (UnimplementedVaultServiceServer) AbortUpload(context.Context, *AbortUploadRequest) (*AbortUploadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AbortUpload not implemented")
}
func (UnimplementedVaultServiceServer) Retrieve(*RetrieveRequest, grpc.ServerStreamingServer[RetrieveResponse]) error {
	return status.Error(codes.Unimplemented, "method Retrieve not implemented")
}

func RegisterVaultServiceServer(s grpc.ServiceRegistrar, srv VaultServiceServer) {
	s.RegisterService(&VaultService_ServiceDesc, srv)
}

func _VaultService_InitiateUpload_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InitiateUploadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).InitiateUpload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VaultService_InitiateUpload_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VaultServiceServer).InitiateUpload(ctx, req.(*InitiateUploadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _VaultService_UploadPart_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(VaultServiceServer).UploadPart(&grpc.GenericServerStream[UploadPartRequest, UploadPartResponse]{ServerStream: stream})
}

func _VaultService_CompleteUpload_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CompleteUploadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).CompleteUpload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VaultService_CompleteUpload_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VaultServiceServer).CompleteUpload(ctx, req.(*CompleteUploadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _VaultService_AbortUpload_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AbortUploadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).AbortUpload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VaultService_AbortUpload_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VaultServiceServer).AbortUpload(ctx, req.(*AbortUploadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _VaultService_Retrieve_Handler(srv any, stream grpc.ServerStream) error {
	m := new(RetrieveRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(VaultServiceServer).Retrieve(m, &grpc.GenericServerStream[RetrieveRequest, RetrieveResponse]{ServerStream: stream})
}

// VaultService_ServiceDesc 是 VaultService 的 grpc.ServiceDesc
// 消息使用 CBOR 编码，没有对应的 .proto 文件
var VaultService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitiateUpload", Handler: _VaultService_InitiateUpload_Handler},
		{MethodName: "CompleteUpload", Handler: _VaultService_CompleteUpload_Handler},
		{MethodName: "AbortUpload", Handler: _VaultService_AbortUpload_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "UploadPart", Handler: _VaultService_UploadPart_Handler, ClientStreams: true},
		{StreamName: "Retrieve", Handler: _VaultService_Retrieve_Handler, ServerStreams: true},
	},
}
