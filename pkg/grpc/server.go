package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/logging"
)

// Server is a gRPC server whose every call passes through the chaos
// interceptors. It always serves the standard health service and
// reflection, so stock tooling can query it.
type Server struct {
	*grpc.Server
	Health *health.Server
	logger *slog.Logger
}

// NewServer creates a server gated by gate. Extra grpc.ServerOptions are
// appended after the interceptors.
func NewServer(gate chaos.Gate, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(gate, WithLogger(logger))),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(gate, WithLogger(logger))),
	}, opts...)

	s := &Server{
		Server: grpc.NewServer(serverOpts...),
		Health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.Server, s.Health)
	reflection.Register(s.Server)
	return s
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully, forcing a stop after timeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.Serve(lis)
	}()
	s.logger.Info("gRPC server started", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.Server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		s.logger.Warn("gRPC graceful stop timed out, forcing stop")
		s.Server.Stop()
	}
	return nil
}
