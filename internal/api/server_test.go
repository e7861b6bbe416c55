package api

import (
	"context"
	"testing"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/events"
	"ticketsync/internal/models"
	"ticketsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startGRPC(t *testing.T) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	cfg := config.APIConfig{Enabled: true, GRPC: config.APIGRPCConfig{Enabled: true, Port: 0}}
	srv, err := NewGRPCServer(&cfg, nil)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestGRPCHealthFollowsImports(t *testing.T) {
	srv, client := startGRPC(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	bus := events.NewEventBus(nil)
	bus.Subscribe(events.EventImportFinished, srv.HandleImportFinished)

	require.NoError(t, bus.PublishJSON(events.EventImportFinished, events.ImportEventPayload{State: models.StateError}))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	require.NoError(t, bus.PublishJSON(events.EventImportFinished, events.ImportEventPayload{State: models.StateDone}))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))
}

func TestGRPCHealthSyncWithProgress(t *testing.T) {
	srv, client := startGRPC(t)
	progress := repository.NewMemoryProgressRepository()
	ctx := context.Background()

	require.NoError(t, progress.Set(ctx, models.Progress{State: models.StateError, Error: "boom"}))
	srv.SyncWithProgress(ctx, progress)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))

	require.NoError(t, progress.Set(ctx, models.Progress{State: models.StateDone}))
	srv.SyncWithProgress(ctx, progress)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}
