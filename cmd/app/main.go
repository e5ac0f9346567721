package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wa-gateway/internal/cache"
	"wa-gateway/internal/config"
	"wa-gateway/internal/evolution"
	"wa-gateway/internal/httpserver"
	"wa-gateway/internal/logging"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/provider"
	"wa-gateway/internal/reconnect"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/uazapi"
	"wa-gateway/internal/worker"
	"wa-gateway/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting wa-gateway", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := newRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	registry := provider.NewRegistry()
	if cfg.UazapiBaseURL != "" {
		transport := provider.NewHTTPTransport(uazapi.ProviderID, cfg.ProviderTimeout, logger, metricRegistry)
		registry.Register(uazapi.New(uazapi.Config{
			BaseURL:    cfg.UazapiBaseURL,
			AdminToken: cfg.UazapiAdminToken,
		}, logger, transport))
	}
	if cfg.EvolutionBaseURL != "" {
		transport := provider.NewHTTPTransport(evolution.ProviderID, cfg.ProviderTimeout, logger, metricRegistry)
		registry.Register(evolution.New(evolution.Config{
			BaseURL: cfg.EvolutionBaseURL,
			APIKey:  cfg.EvolutionAPIKey,
		}, logger, transport))
	}
	logger.Info("providers registered", "providers", registry.IDs())

	reconnectManager := reconnect.New(reconnect.Policy{
		MaxAttempts:  cfg.ReconnectMaxAttempts,
		InitialDelay: cfg.ReconnectInitialDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
		Jitter:       cfg.ReconnectJitter,
	}, logger, metricRegistry)

	sender := worker.New(registry, repository, logger, metricRegistry, cfg.SendQueueSize)
	sender.Start(ctx, cfg.SendWorkers)
	// Stop drains the send queue after the HTTP server has shut down,
	// before the repository closes. Queued tasks settle even though the
	// signal context is already cancelled by then.
	defer sender.Stop()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
		Registry:   registry,
		Reconnect:  reconnectManager,
		Sender:     sender,
	}, httpserver.Options{
		WebhookDedupTTL: cfg.WebhookDedupTTL,
		PublicBaseURL:   cfg.PublicBaseURL,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// newRepository picks the store by configuration: a DATABASE_URL selects
// Postgres, otherwise the embedded SQLite file is used.
func newRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Repository, error) {
	if cfg.DatabaseURL != "" {
		logger.Info("using postgres store")
		return repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	}
	logger.Info("using sqlite store", "path", cfg.SQLitePath)
	return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
}
