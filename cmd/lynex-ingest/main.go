// Lynex ingest server: authenticates SDK traffic, meters usage, and queues
// telemetry events on the durable bus for the processor.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lynex-ai/lynex/pkg/alerts"
	"github.com/lynex-ai/lynex/pkg/api"
	"github.com/lynex-ai/lynex/pkg/billing"
	"github.com/lynex-ai/lynex/pkg/bus"
	"github.com/lynex-ai/lynex/pkg/config"
	"github.com/lynex-ai/lynex/pkg/credentials"
	"github.com/lynex-ai/lynex/pkg/database"
	"github.com/lynex-ai/lynex/pkg/metrics"
	"github.com/lynex-ai/lynex/pkg/usage"
	"github.com/lynex-ai/lynex/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	settings := config.Load()
	if settings.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	flushTracker, err := config.InitSentry(settings)
	if err != nil {
		slog.Error("Failed to initialize error tracking", "error", err)
		os.Exit(1)
	}
	defer flushTracker()

	slog.Info("Starting lynex-ingest",
		"version", version.Version,
		"addr", settings.HTTPAddr,
		"env", settings.Env)

	ctx := context.Background()

	// 1. Postgres: credentials, subscriptions, alert rule admin.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL")

	// 2. Redis: durable bus plus the usage counters. The ingest boundary
	// keeps accepting events through the in-memory fallback when Redis is
	// down, so bus setup never aborts startup.
	eventBus, err := bus.OpenWithFallback(ctx, bus.DefaultConfig(settings.RedisURL))
	if err != nil {
		slog.Error("Failed to open event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	redisOpts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		slog.Error("Invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// 3. Domain services.
	credStore := credentials.NewStore(dbClient.DB())
	accountant := usage.NewAccountant(rdb, nil) // tier source wired below
	subscriptions := billing.NewService(dbClient.DB(), accountant)
	accountant.SetTiers(subscriptions)
	guard := usage.NewGuard(accountant)
	whop := billing.NewWhop(billing.WhopConfig{
		APIKey:        settings.Whop.APIKey,
		WebhookSecret: settings.Whop.WebhookSecret,
	})
	ruleStore := alerts.NewStore(dbClient.DB())
	m := metrics.New()
	slog.Info("Services initialized")

	// 4. HTTP server.
	server := api.NewServer(api.Deps{
		Bus:           eventBus,
		Credentials:   credStore,
		Guard:         guard,
		Usage:         accountant,
		Rules:         ruleStore,
		Subscriptions: subscriptions,
		Whop:          whop,
		DB:            dbClient,
		Metrics:       m,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(settings.HTTPAddr); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()
	slog.Info("lynex-ingest started", "addr", settings.HTTPAddr)

	// 5. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: drain HTTP first so no accepted event misses
	// the bus, then let the deferred closes run.
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
