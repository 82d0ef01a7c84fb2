package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/config"
	"github.com/getmockd/mockd-chaos/pkg/grpc"
	"github.com/getmockd/mockd-chaos/pkg/metrics"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configFile      string
	httpAddr        string
	grpcAddr        string
	trustedProxies  string
	trustAllProxies bool
	readTimeout     time.Duration
	writeTimeout    time.Duration
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

// serveCmd starts the gated mock servers in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock servers behind the chaos pipeline",
	Long: `Start HTTP, GraphQL, WebSocket and gRPC mocks behind one resilience pipeline.

The HTTP listener serves:
  /graphql        GraphQL mock (per-operation routing)
  /ws             WebSocket echo (per-message gating)
  /metrics        Prometheus metrics
  /chaos/status   Live pipeline statistics
  /health         Liveness check
  /*              JSON mock, shaped with ?status= and ?size=

The gRPC listener serves grpc.health.v1 and reflection.

Without --config the pipeline is disabled and every request passes through.`,
	Example: `  # Start with a chaos config
  mockd-chaos serve --config chaos.yaml

  # Custom listeners
  mockd-chaos serve -c chaos.yaml --http-addr :8080 --grpc-addr :9090

  # Trust X-Forwarded-For from a local proxy
  mockd-chaos serve -c chaos.yaml --trusted-proxies 10.0.0.0/8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, &serveFlagVals)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to chaos configuration file (YAML or JSON)")
	serveCmd.Flags().StringVar(&f.httpAddr, "http-addr", ":4280", "HTTP listen address")
	serveCmd.Flags().StringVar(&f.grpcAddr, "grpc-addr", ":50051", "gRPC listen address (empty to disable)")
	serveCmd.Flags().StringVar(&f.trustedProxies, "trusted-proxies", "", "Comma-separated CIDRs or IPs allowed to set X-Forwarded-For")
	serveCmd.Flags().BoolVar(&f.trustAllProxies, "trust-all-proxies", false, "Honor X-Forwarded-For from any peer")
	serveCmd.Flags().DurationVar(&f.readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&f.writeTimeout, "write-timeout", 0, "HTTP write timeout (0 disables; injected latency counts against it)")
}

// loadChaosConfig loads the pipeline config, or a disabled one when no
// file is given.
func loadChaosConfig(path string) (*chaos.Config, error) {
	if path == "" {
		return &chaos.Config{}, nil
	}
	return config.LoadFromFile(path)
}

func runServe(ctx context.Context, f *serveFlags) error {
	logger, closeLog, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	cfg, err := loadChaosConfig(f.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reg := metrics.NewRegistry()
	collector := metrics.New(reg)
	pipeline := chaos.NewPipeline(cfg,
		chaos.WithLogger(logger),
		chaos.WithObserver(collector),
	)
	collector.WatchPipeline(pipeline)

	handler, err := newHTTPHandler(handlerDeps{
		pipeline: pipeline,
		registry: reg,
		clientIP: ratelimit.NewClientIPResolver(splitList(f.trustedProxies), f.trustAllProxies),
		logger:   logger,
	})
	if err != nil {
		return err
	}

	// Bind every address before serving so a failed bind leaves nothing running.
	httpLis, err := net.Listen("tcp", f.httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", f.httpAddr, err)
	}
	var grpcLis net.Listener
	if f.grpcAddr != "" {
		grpcLis, err = net.Listen("tcp", f.grpcAddr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", f.grpcAddr, err)
		}
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadTimeout:       f.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      f.writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info("chaos pipeline configured",
		"enabled", pipeline.Enabled(),
		"config", f.configFile,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, httpServer, httpLis, logger)
	})
	if grpcLis != nil {
		grpcServer := grpc.NewServer(pipeline, logger)
		g.Go(func() error {
			return grpcServer.Serve(gctx, grpcLis, shutdownTimeout)
		})
	}

	err = g.Wait()
	logger.Info("servers stopped")
	return err
}

// serveHTTP runs srv on lis until ctx ends, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, lis net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	logger.Info("HTTP server started", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", "error", err)
		return srv.Close()
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
