package client

import (
	"context"
	"fmt"
	"time"

	vaultrpc "coldvault/pkg/api/vaultrpc/v1"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// VaultClient 封装了与 cv-server 的连接
type VaultClient struct {
	conn *grpc.ClientConn

	// 公开具体的 Service Client
	Vault vaultrpc.VaultServiceClient
}

// NewVaultClient 创建并初始化客户端
// 它会立即返回，连接在后台进行。extra 会追加在默认选项之后 (测试里用来注入 bufconn Dialer)
func NewVaultClient(addr string, extra ...grpc.DialOption) (*VaultClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// 保持连接活跃: 大文件上传可能长时间只有单向流量
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		// 注意：这里的 err 通常只是配置错误（如地址格式不对）
		// 网络不通不会在这里报错
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}

	return &VaultClient{
		conn:  conn,
		Vault: vaultrpc.NewVaultServiceClient(conn),
	}, nil
}

// Ping 通过 Health 服务确认 cv-server 可用
func (c *VaultClient) Ping(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: vaultrpc.ServiceName})
	if err != nil {
		return fmt.Errorf("cv-server health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("cv-server not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close 关闭底层连接
func (c *VaultClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
