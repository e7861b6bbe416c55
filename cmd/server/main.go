package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketsync/internal/api"
	"ticketsync/internal/app"
	"ticketsync/internal/config"
	"ticketsync/internal/database"
	"ticketsync/internal/events"
	"ticketsync/internal/logging"
	"ticketsync/internal/metrics"
	"ticketsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init application")
		return err
	}
	defer (func() { _ = a.Close() })()

	if err := a.RecoverInterrupted(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to recover interrupted imports")
	}

	startMetrics(ctx, cfg, &logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logging.Component(&logger, "backup"))
		go backupService.Start(ctx)
	}

	sheetsWorker := startSheetsWorker(ctx, a, &logger)

	if cfg.Scheduler.Enabled {
		lookback, _ := config.ParseLookback(cfg.Scheduler.Lookback)
		scheduler := worker.NewScheduler(a.Orchestrator, cfg.Scheduler.Interval, lookback, logging.Component(&logger, "scheduler"))
		go scheduler.Start(ctx)
	}

	defer a.Orchestrator.Close()
	return startServers(ctx, a, sheetsWorker, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "server-main").Logger()

	return cfg, logger, closer, nil
}

func startSheetsWorker(ctx context.Context, a *app.App, logger *zerolog.Logger) *worker.SheetsWorker {
	if a.Sheets == nil {
		return nil
	}

	sheetsWorker := worker.NewSheetsWorker(a.DB, a.Sheets, a.Dataset, a.Redis, worker.MirrorRetryPolicy(a.Config.Google), logging.Component(logger, "sheets-worker"))
	sheetsWorker.SetEventPublisher(a.Events)
	if a.Config.Google.MirrorAfterRun {
		a.Events.Subscribe(events.EventImportFinished, sheetsWorker.HandleImportFinished)
	}
	go sheetsWorker.Start(ctx)
	return sheetsWorker
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	a *app.App,
	sheetsWorker *worker.SheetsWorker,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if !cfg.API.Enabled {
		logger.Info().Msg("API is disabled, running scheduler and workers only")
		<-ctx.Done()
		return nil
	}

	deps := api.Deps{
		Importer: a.Orchestrator,
		Progress: a.Progress,
		Runs:     a.DB,
		Dataset:  a.Dataset,
	}
	deps.DefaultLookback, _ = config.ParseLookback(cfg.Import.Lookback)
	if sheetsWorker != nil {
		deps.Mirror = sheetsWorker
	}
	httpServer := api.NewHTTPServer(ctx, &cfg.API, deps, logging.Component(logger, "http"))

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(&cfg.API, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer.SyncWithProgress(ctx, a.Progress)
		a.Events.Subscribe(events.EventImportFinished, grpcServer.HandleImportFinished)

		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
