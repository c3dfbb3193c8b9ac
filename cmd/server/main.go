// Package main provides the entry point for the paper processing service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/paper-processing-service/internal/bus"
	"github.com/helixir/paper-processing-service/internal/commands"
	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/database"
	"github.com/helixir/paper-processing-service/internal/lifecycle"
	"github.com/helixir/paper-processing-service/internal/observability"
	"github.com/helixir/paper-processing-service/internal/pipeline"
	"github.com/helixir/paper-processing-service/internal/repository"
	"github.com/helixir/paper-processing-service/internal/retry"
	httpserver "github.com/helixir/paper-processing-service/internal/server/http"
	"github.com/helixir/paper-processing-service/internal/stagehttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("paper-processing-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL, or run on in-memory stores when disabled.
	var (
		db             *database.DB
		historyRepo    repository.StateHistoryRepository
		deadLetterRepo repository.DeadLetterRepository
	)
	if cfg.Database.Enabled {
		db, err = database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		// Run migrations if configured.
		if cfg.Database.MigrationAutoRun {
			migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer func() {
				if closeErr := migrator.Close(); closeErr != nil {
					logger.Error().Err(closeErr).Msg("failed to close migrator")
				}
			}()

			if err := migrator.Up(); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		historyRepo = repository.NewPgStateHistoryRepository(db)
		deadLetterRepo = repository.NewPgDeadLetterRepository(db)
	} else {
		logger.Warn().Msg("database disabled, paper history will not survive a restart")
		historyRepo = repository.NewMemoryStateHistoryRepository()
		deadLetterRepo = repository.NewMemoryDeadLetterRepository()
	}

	// Metrics registry.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("paperproc")
	}

	// Event bus, lifecycle machine, retry manager.
	events := bus.New(cfg.Events.BufferSize, metrics, logger)
	defer events.Close()

	machine := lifecycle.NewMachine(historyRepo, events, metrics, logger)
	manager := retry.NewManager(deadLetterRepo, machine, cfg.Retry, metrics, logger)

	// Stage handler registry with HTTP collaborators for enabled services.
	registry := pipeline.NewRegistry(cfg.Pipeline)
	if err := stagehttp.RegisterHandlers(registry, cfg.StageServices, metrics, logger); err != nil {
		return fmt.Errorf("register stage handlers: %w", err)
	}

	// Orchestration engine.
	engine := pipeline.NewEngine(cfg.Pipeline, registry, machine, manager, metrics, logger)
	manager.SetEnqueuer(engine)
	engine.Start(ctx)
	defer engine.Stop()
	logger.Info().Msg("pipeline engine started")

	// Channel to collect server errors.
	errCh := make(chan error, 4)

	// Kafka event relay and command listener.
	if cfg.Kafka.Enabled {
		relay := bus.NewRelay(bus.RelayConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.EventsTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, events, logger)
		defer func() {
			if closeErr := relay.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close kafka relay")
			}
		}()
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("kafka relay error: %w", err)
			}
		}()

		listener := commands.NewListener(commands.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.CommandsTopic,
			GroupID: cfg.Kafka.ConsumerGroup,
		}, manager, logger)
		defer func() {
			if closeErr := listener.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close command listener")
			}
		}()
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("command listener error: %w", err)
			}
		}()
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("events_topic", cfg.Kafka.EventsTopic).
			Str("commands_topic", cfg.Kafka.CommandsTopic).
			Msg("kafka integration started")
	}

	// HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    5 * time.Minute, // Long timeout for SSE streaming.
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, cfg.Events, engine, machine, manager, events, historyRepo, db, logger)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("paper-processing-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down paper-processing-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	// Drain in-flight pipeline work before closing the bus and DB.
	engine.Stop()

	logger.Info().Msg("paper-processing-service stopped")
	return nil
}
