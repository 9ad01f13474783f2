package config

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lynex-ai/lynex/pkg/version"
)

// InitSentry starts error tracking when SENTRY_DSN is configured. The
// returned flush function drains buffered events on shutdown and is safe
// to call when tracking is disabled.
func InitSentry(s *Settings) (func(), error) {
	if s.SentryDSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         s.SentryDSN,
		Environment: s.Env,
		Release:     version.Full(),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
