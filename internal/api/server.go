package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/domain"
	"ticketsync/internal/events"
	"ticketsync/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name; "" reports the same status.
const ServiceName = "ticketsync.Import"

// GRPCServer serves the standard health service. It reports NOT_SERVING while
// the last import ended in error.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	auth := NewAuthInterceptor(cfg)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingUnaryInterceptor(logger),
		auth.Unary(),
	))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	serverLogger := zerolog.Nop()
	if logger != nil {
		serverLogger = logger.With().Str("component", "grpc").Logger()
	}

	s := &GRPCServer{
		server:   grpcServer,
		health:   hs,
		listener: lis,
		log:      serverLogger,
	}
	s.SetServing(true)
	return s, nil
}

// SetServing flips the reported health status.
func (s *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// SyncWithProgress derives the initial status from the last stored progress record.
func (s *GRPCServer) SyncWithProgress(ctx context.Context, progress domain.ProgressRepository) {
	p, err := progress.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not read progress for health status")
		return
	}
	s.SetServing(p.State != models.StateError)
}

// HandleImportFinished keeps the health status in line with finished runs.
func (s *GRPCServer) HandleImportFinished(e *events.Event) error {
	var p events.ImportEventPayload
	if err := e.Decode(&p); err != nil {
		return fmt.Errorf("decode import event: %w", err)
	}
	s.SetServing(p.State != models.StateError)
	return nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
