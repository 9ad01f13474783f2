package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()

	assert.Equal(t, "development", s.Env)
	assert.False(t, s.IsProduction())
	assert.Equal(t, "redis://localhost:6379/0", s.RedisURL)
	assert.Equal(t, 9000, s.ClickHouse.Port)
	assert.Equal(t, "lynex", s.ClickHouse.Database)
	assert.Equal(t, 30, s.Archive.AfterDays)
	assert.Equal(t, 10_000, s.Archive.BatchSize)
	assert.Equal(t, 24*time.Hour, s.Archive.Interval)
	assert.False(t, s.Archive.DeleteAfterArchive)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("CLICKHOUSE_PORT", "19000")
	t.Setenv("ARCHIVE_INTERVAL_HOURS", "6")
	t.Setenv("DELETE_AFTER_ARCHIVE", "true")
	t.Setenv("WHOP_WEBHOOK_SECRET", "s3cret")

	s := Load()
	assert.True(t, s.IsProduction())
	assert.Equal(t, "redis://cache:6379/1", s.RedisURL)
	assert.Equal(t, 19000, s.ClickHouse.Port)
	assert.Equal(t, 6*time.Hour, s.Archive.Interval)
	assert.True(t, s.Archive.DeleteAfterArchive)
	assert.Equal(t, "s3cret", s.Whop.WebhookSecret)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CLICKHOUSE_PORT", "not-a-port")

	s := Load()
	assert.Equal(t, 9000, s.ClickHouse.Port)
}
