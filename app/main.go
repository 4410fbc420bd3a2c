package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-sieve/app/api"
	"github.com/lysyi3m/rss-sieve/app/backoff"
	"github.com/lysyi3m/rss-sieve/app/bus"
	"github.com/lysyi3m/rss-sieve/app/cfg"
	"github.com/lysyi3m/rss-sieve/app/database"
	"github.com/lysyi3m/rss-sieve/app/feed"
	"github.com/lysyi3m/rss-sieve/app/pipeline"
	"github.com/lysyi3m/rss-sieve/app/tasks"
)

type busClient interface {
	bus.Client
	pipeline.HealthReporter
}

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogger(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("RSS Sieve stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Sieve", "version", appCfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	slog.Info("Feed configurations loaded", "dir", appCfg.FeedsDir, "count", configCache.GetConfigCount())

	db, err := database.NewConnection(database.ConnectionConfig{
		Driver:     appCfg.DBDriver,
		Host:       appCfg.DBHost,
		Port:       appCfg.DBPort,
		User:       appCfg.DBUser,
		Password:   appCfg.DBPassword,
		Name:       appCfg.DBName,
		SSLMode:    appCfg.DBSSLMode,
		SQLitePath: appCfg.SQLitePath,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "driver", db.Driver(), "schema_version", version, "dirty", dirty)

	ledger := database.NewLedger(db, backoff.Policy{
		MaxAttempts: appCfg.LedgerMaxAttempts,
		Base:        200 * time.Millisecond,
		Cap:         5 * time.Second,
		Jitter:      true,
	})

	client, err := newBusClient(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("Error closing bus client", "error", err)
		}
	}()

	publisher := bus.NewPublisher(client, appCfg.BusTopic, backoff.Policy{
		MaxAttempts: appCfg.PublishMaxAttempts,
		Base:        500 * time.Millisecond,
		Cap:         10 * time.Second,
		Jitter:      true,
	})

	httpClient := feed.NewClient(&http.Client{}, appCfg.UserAgent)

	stats := pipeline.NewStats()
	scheduler := tasks.NewScheduler(configCache, &tasks.Pipeline{
		Fetcher:          feed.NewFetcher(httpClient, appCfg.FetchTimeout),
		Parser:           feed.NewParser(),
		Normalizer:       feed.NewNormalizer(),
		Filterer:         feed.NewFilterer(),
		Ledger:           ledger,
		Publisher:        publisher,
		OperationTimeout: appCfg.OperationTimeout,
	}, stats)

	coordinator := pipeline.NewCoordinator(scheduler, ledger, stats, client, appCfg.ShutdownGrace)
	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	handler := api.NewHandler(configCache, scheduler, ledger, coordinator, stats, publisher.Topic())
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	slog.Info("RSS Sieve started", "feeds", scheduler.FeedCount(), "bus", appCfg.BusBackend, "topic", appCfg.BusTopic)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case runErr = <-serverErr:
		slog.Error("Server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	if !coordinator.Stop() {
		slog.Warn("Some feed cycles did not finish within the shutdown grace period")
	}

	slog.Info("RSS Sieve shutdown complete")

	return runErr
}

func newBusClient(ctx context.Context, appCfg *cfg.Cfg) (busClient, error) {
	switch appCfg.BusBackend {
	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := bus.NewRedisClient(connectCtx, appCfg.RedisAddr, appCfg.RedisStreamMaxLen)
		if err != nil {
			return nil, fmt.Errorf("failed to create bus client: %w", err)
		}
		return client, nil
	default:
		client, err := bus.NewKafkaClient(appCfg.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("failed to create bus client: %w", err)
		}
		slog.Info("Kafka writer configured", "brokers", appCfg.KafkaBrokers)
		return client, nil
	}
}
