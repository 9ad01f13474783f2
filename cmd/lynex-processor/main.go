// Lynex processor: consumes events from the durable bus, enriches and
// prices them, evaluates alert rules, writes analytics batches to
// ClickHouse, and runs the S3 cold-tier archiver.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lynex-ai/lynex/pkg/alerts"
	"github.com/lynex-ai/lynex/pkg/analytics"
	"github.com/lynex-ai/lynex/pkg/archive"
	"github.com/lynex-ai/lynex/pkg/bus"
	"github.com/lynex-ai/lynex/pkg/config"
	"github.com/lynex-ai/lynex/pkg/database"
	"github.com/lynex-ai/lynex/pkg/metrics"
	"github.com/lynex-ai/lynex/pkg/notify"
	"github.com/lynex-ai/lynex/pkg/processor"
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

	slog.Info("Starting lynex-processor",
		"version", version.Version,
		"env", settings.Env)

	ctx := context.Background()

	// 1. Redis bus. Unlike ingest, the processor is useless without the
	// bus, so a dead broker aborts startup.
	eventBus, err := bus.Open(ctx, bus.DefaultConfig(settings.RedisURL))
	if err != nil {
		slog.Error("Failed to open event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()
	slog.Info("Connected to Redis bus")

	// 2. ClickHouse analytics store and the batching writer.
	store, err := analytics.Connect(ctx, analytics.Config{
		Host:     settings.ClickHouse.Host,
		Port:     settings.ClickHouse.Port,
		User:     settings.ClickHouse.User,
		Password: settings.ClickHouse.Password,
		Database: settings.ClickHouse.Database,
	})
	if err != nil {
		slog.Error("Failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Connected to ClickHouse", "database", settings.ClickHouse.Database)

	m := metrics.New()
	writer := analytics.NewWriter(store, analytics.DefaultFlushThreshold)
	writer.SetDepthGauge(func(depth int) { m.BufferDepth.Set(float64(depth)) })

	// 3. Postgres for the alert rule snapshot.
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

	ruleManager := alerts.NewManager(alerts.NewStore(dbClient.DB()), alerts.DefaultReloadInterval)
	ruleManager.Start(ctx)
	defer ruleManager.Stop()
	slog.Info("Alert rule manager started", "rules", len(ruleManager.Rules()))

	// 4. Alert delivery sinks. The console sink is always on; Slack and
	// the generic webhook join when configured.
	sinks := []notify.Notifier{notify.NewConsoleNotifier()}
	if slackSink := notify.NewSlackNotifier(settings.Notify.SlackWebhookURL); slackSink != nil {
		sinks = append(sinks, slackSink)
		slog.Info("Slack notifications enabled")
	}
	if settings.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(settings.Notify.WebhookURL))
		slog.Info("Webhook notifications enabled")
	}
	dispatcher := notify.NewDispatcher(sinks...)

	// 5. Cold-tier archiver, enabled only when a bucket is configured.
	var archiver *archive.Archiver
	if settings.Archive.Bucket != "" {
		s3Client, err := archive.NewS3Client(ctx,
			settings.Archive.Region,
			settings.Archive.AccessKeyID,
			settings.Archive.SecretAccessKey)
		if err != nil {
			slog.Error("Failed to build S3 client", "error", err)
			os.Exit(1)
		}
		archiver = archive.NewArchiver(archive.Config{
			Bucket:             settings.Archive.Bucket,
			Prefix:             settings.Archive.Prefix,
			AfterDays:          settings.Archive.AfterDays,
			BatchSize:          settings.Archive.BatchSize,
			Interval:           settings.Archive.Interval,
			DeleteAfterArchive: settings.Archive.DeleteAfterArchive,
		}, store, s3Client)
		archiver.Start(ctx)
		defer archiver.Stop()
		slog.Info("Archiver started",
			"bucket", settings.Archive.Bucket,
			"after_days", settings.Archive.AfterDays)
	} else {
		slog.Info("S3_ARCHIVE_BUCKET not set, archiver disabled")
	}

	// 6. The consumer loop.
	consumer := processor.NewConsumer(processor.DefaultConfig(), eventBus, writer, ruleManager, dispatcher, m)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("Failed to start consumer", "error", err)
		os.Exit(1)
	}

	// 7. Metrics endpoint.
	metricsServer := &http.Server{Addr: settings.MetricsAddr, Handler: m.Handler()}
	errCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("lynex-processor started", "metrics_addr", settings.MetricsAddr)

	// 8. Wait for shutdown signal or metrics server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Stop consuming first; Stop drains in-flight batches and flushes
	// the writer, so buffered rows reach ClickHouse before the deferred
	// closes tear the connections down.
	consumer.Stop()
	slog.Info("Consumer stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
