package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/shop-ledger/internal/app"
	"github.com/example/shop-ledger/internal/config"
	"github.com/example/shop-ledger/internal/rpc"
	"github.com/example/shop-ledger/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ledger grpc server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, validator, err := rt.Auth()
	if err != nil {
		return err
	}
	auditor, err := rt.Auditor()
	if err != nil {
		return err
	}

	opts := rpc.ServerOptions(logger, validator, auditor)
	if tlsOpts := rt.TLS(); tlsOpts.Enabled() {
		tlsCfg, err := security.LoadServerTLSConfig(tlsOpts)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	grpcServer := grpc.NewServer(opts...)
	rpc.Register(grpcServer, rpc.NewServer(rt.Ledger, logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down ledger grpc server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	logger.Info("ledger grpc server listening", "addr", cfg.GRPCAddr)
	return grpcServer.Serve(lis)
}
