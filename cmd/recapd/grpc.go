package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// serviceName is the health-check service key for the ledger.
const serviceName = "recap.Ledger"

// grpcHealth serves the standard gRPC health protocol, reporting NOT_SERVING
// while a readiness probe is degraded.
type grpcHealth struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	ready  func(context.Context) error // nil = always serving
	logger *zap.Logger
}

func newGRPCHealth(port int, ready func(context.Context) error, logger *zap.Logger) (*grpcHealth, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("gRPC listen on :%d: %w", port, err)
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &grpcHealth{srv: srv, health: hs, lis: lis, ready: ready, logger: logger}
	g.update(context.Background())
	return g, nil
}

func (g *grpcHealth) serve() {
	g.logger.Info("recapd gRPC health listening", zap.String("addr", g.lis.Addr().String()))
	if err := g.srv.Serve(g.lis); err != nil {
		g.logger.Error("gRPC serve error", zap.Error(err))
	}
}

// watch refreshes the serving status until ctx is done.
func (g *grpcHealth) watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.update(ctx)
		}
	}
}

func (g *grpcHealth) update(ctx context.Context) {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if g.ready != nil && g.ready(ctx) != nil {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(serviceName, st)
}

func (g *grpcHealth) stop() {
	g.health.Shutdown()
	g.srv.GracefulStop()
}

// loggingInterceptor logs each unary call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
