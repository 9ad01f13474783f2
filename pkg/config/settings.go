// Package config loads runtime settings for the ingest and processor
// binaries from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Settings is the umbrella configuration object shared by both binaries.
type Settings struct {
	Env   string // "development" or "production"
	Debug bool

	HTTPAddr    string
	MetricsAddr string
	RedisURL    string
	SentryDSN   string

	ClickHouse ClickHouseSettings
	Whop       WhopSettings
	Archive    ArchiveSettings
	Notify     NotifySettings
}

// ClickHouseSettings configures the analytics store connection.
type ClickHouseSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// WhopSettings configures the payment provider integration.
type WhopSettings struct {
	APIKey        string
	WebhookSecret string
}

// NotifySettings configures the alert delivery sinks. Empty URLs disable
// the corresponding sink.
type NotifySettings struct {
	SlackWebhookURL string
	WebhookURL      string
}

// ArchiveSettings configures the cold-tier archiver.
type ArchiveSettings struct {
	Bucket             string
	Prefix             string
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	AfterDays          int
	BatchSize          int
	Interval           time.Duration
	DeleteAfterArchive bool
}

// Load reads settings from the environment, applying defaults suitable for
// local development.
func Load() *Settings {
	return &Settings{
		Env:         getEnv("ENV", "development"),
		Debug:       getBool("DEBUG", false),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),

		ClickHouse: ClickHouseSettings{
			Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
			Port:     getInt("CLICKHOUSE_PORT", 9000),
			User:     getEnv("CLICKHOUSE_USER", "default"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
			Database: getEnv("CLICKHOUSE_DATABASE", "lynex"),
		},

		Whop: WhopSettings{
			APIKey:        os.Getenv("WHOP_API_KEY"),
			WebhookSecret: os.Getenv("WHOP_WEBHOOK_SECRET"),
		},

		Archive: ArchiveSettings{
			Bucket:             os.Getenv("S3_ARCHIVE_BUCKET"),
			Prefix:             getEnv("S3_ARCHIVE_PREFIX", "events"),
			Region:             getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			AfterDays:          getInt("ARCHIVE_AFTER_DAYS", 30),
			BatchSize:          getInt("ARCHIVE_BATCH_SIZE", 10_000),
			Interval:           time.Duration(getInt("ARCHIVE_INTERVAL_HOURS", 24)) * time.Hour,
			DeleteAfterArchive: getBool("DELETE_AFTER_ARCHIVE", false),
		},

		Notify: NotifySettings{
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
			WebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
		},
	}
}

// IsProduction reports whether the deployment environment is production.
func (s *Settings) IsProduction() bool {
	return s.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
