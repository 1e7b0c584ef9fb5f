package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openmohaa/stats-aggregator/internal/config"
	"github.com/openmohaa/stats-aggregator/internal/handlers"
	"github.com/openmohaa/stats-aggregator/internal/store"
	"github.com/openmohaa/stats-aggregator/internal/store/memory"
	"github.com/openmohaa/stats-aggregator/internal/store/postgres"
	"github.com/openmohaa/stats-aggregator/internal/worker"
)

// @title Match Statistics Aggregator API
// @version 1.0
// @description Queues stored matches for aggregation into server and player statistics.
// @BasePath /api/v1
// @securityDefinitions.apikey ServerToken
// @in header
// @name X-Server-Token
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Sugar().Errorw("Aggregator exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Aggregator stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()
	instance := uuid.NewString()
	sugar.Infow("Starting stats aggregator", "instance", instance, "env", cfg.Env, "store", cfg.StoreDriver)

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pcfg := worker.ProcessorConfig{
		Store:           st,
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Logger:          logger,
	}

	// Redis is optional; a nil Cmdable keeps it out of the readiness checks.
	var rdb redis.Cmdable
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			sugar.Warnw("Redis not reachable, notifications will fail until it is", "error", err)
		}
		rdb = client
		pcfg.Notifier = worker.NewRedisNotifier(client, instance)
	}

	if cfg.ClickHouseURL != "" {
		opts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_URL: %w", err)
		}
		conn, err := clickhouse.Open(opts)
		if err != nil {
			return fmt.Errorf("failed to open ClickHouse: %w", err)
		}
		defer conn.Close()

		exporter := worker.NewExporter(worker.ExporterConfig{
			ClickHouse:    conn,
			BatchSize:     cfg.ExportBatchSize,
			FlushInterval: cfg.ExportFlushInterval,
			Logger:        logger,
		})
		if err := exporter.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to create ClickHouse schema: %w", err)
		}
		// Stopped explicitly after the processor so the last commits still get exported.
		exporter.Start(context.WithoutCancel(ctx))
		defer exporter.Stop()
		pcfg.Exporter = exporter
	}

	processor := worker.NewProcessor(pcfg)
	if err := processor.Start(ctx); err != nil {
		return err
	}
	defer processor.Stop()

	h := handlers.New(handlers.Config{
		Queue:       processor,
		Store:       st,
		Redis:       rdb,
		Logger:      logger,
		IngestToken: cfg.IngestToken,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Router(cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using the in-memory store, aggregates are lost on exit")
		return memory.New(), func() {}, nil
	}

	s, pool, err := postgres.Connect(ctx, postgres.Config{
		URL:      cfg.PostgresURL,
		MaxConns: int32(cfg.PostgresMaxConns),
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	logger.Info("Connected to PostgreSQL")
	return s, pool.Close, nil
}
