package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"coldvault/pkg/app"
	"coldvault/pkg/config"
	"coldvault/pkg/server"

	"github.com/spf13/viper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.cv/config.yaml)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := app.NewLogger(*verbose)
	slog.SetDefault(logger)

	// 服务端自己就是远端，不能再转发给另一个 cv-server
	if viper.GetString("storage.type") == "remote" {
		return fmt.Errorf("cv-server cannot use storage.type=remote")
	}

	// 2. Init Core Application
	ctx := context.Background()
	application, err := app.NewApp(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer application.Close()

	// catalog 为 nil 时必须传 nil 接口，而不是 (*meta.Repository)(nil)
	var catalog server.Catalog
	if application.Catalog != nil {
		catalog = application.Catalog
	}

	// 3. Setup Network
	addr := viper.GetString("server.addr")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// 4. Setup gRPC Server
	grpcServer := server.NewGRPCServer(server.NewVaultServer(application.Vault, catalog, logger))

	// 5. Start Server (Async)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", slog.String("addr", addr), slog.String("storage", viper.GetString("storage.type")))
		errCh <- grpcServer.Serve(lis)
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	grpcServer.GracefulStop()
	logger.Info("server stopped")
	return nil
}
