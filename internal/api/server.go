// Package api hosts the dashboard gateway: the HTTP API and a gRPC health
// service that reports SERVING once market data has loaded.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"marketdash/internal/config"
	"marketdash/internal/live"
	"marketdash/internal/util"
)

// ServiceName is the gRPC health service name for the dashboard.
const ServiceName = "marketdash.Dashboard"

const shutdownTimeout = 5 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpSrv  *http.Server
	grpcSrv  *grpc.Server
	health   *health.Server
	grpcAddr string
	log      *slog.Logger
}

// NewServer creates a Server for handler, configured from cfg. The gRPC
// listener is disabled when cfg.Server.GRPCPort is 0.
func NewServer(cfg *config.Config, handler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = util.Discard()
	}
	s := &Server{
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpcSrv: grpc.NewServer(),
		health:  health.NewServer(),
		log:     log.With("component", "api"),
	}
	if cfg.Server.GRPCPort > 0 {
		s.grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}
	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the reported health of the process and the dashboard
// service.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Status returns the current health of service ("" for the process).
func (s *Server) Status(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// WatchReadiness subscribes to hub and marks the server SERVING on the first
// successful instrument listing. The subscription is in place when this
// returns, so a listing started afterwards is never missed.
func (s *Server) WatchReadiness(ctx context.Context, hub *live.Hub) {
	id, ch := hub.Subscribe(64)
	go func() {
		defer hub.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if evt.Source == live.SourceMarket && evt.Kind == live.KindInstruments {
					s.SetServing(true)
					s.log.Info("market data loaded, reporting SERVING")
					return
				}
			}
		}
	}()
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails. Both are shut down gracefully
// before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var grpcLis net.Listener
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		grpcLis = lis
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", s.grpcAddr)
			if err := s.grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.grpcSrv.GracefulStop()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
