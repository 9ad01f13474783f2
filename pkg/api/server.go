// Package api exposes the ingest HTTP surface: event admission, health,
// billing webhooks, usage, and alert rule administration.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/lynex-ai/lynex/pkg/alerts"
	"github.com/lynex-ai/lynex/pkg/billing"
	"github.com/lynex-ai/lynex/pkg/bus"
	"github.com/lynex-ai/lynex/pkg/credentials"
	"github.com/lynex-ai/lynex/pkg/database"
	"github.com/lynex-ai/lynex/pkg/metrics"
	"github.com/lynex-ai/lynex/pkg/usage"
)

// credentialResolver is the auth surface. Satisfied by *credentials.Store.
type credentialResolver interface {
	Resolve(ctx context.Context, key string) (*credentials.Credential, error)
}

// ruleStore is the alert rule admin surface. Satisfied by *alerts.Store.
type ruleStore interface {
	ListByProject(ctx context.Context, projectID string) ([]alerts.Rule, error)
	Get(ctx context.Context, id string) (*alerts.Rule, error)
	Create(ctx context.Context, r *alerts.Rule) (*alerts.Rule, error)
	Update(ctx context.Context, r *alerts.Rule) (*alerts.Rule, error)
	Delete(ctx context.Context, id string) error
}

// usageReader serves the usage endpoint. Satisfied by *usage.Accountant.
type usageReader interface {
	Current(ctx context.Context, userID string) (*usage.Stats, error)
}

// subscriptionReader serves billing state. Satisfied by *billing.Service.
type subscriptionReader interface {
	GetSubscription(ctx context.Context, userID string) (*billing.Subscription, error)
}

// Server wires handlers to their backing services.
type Server struct {
	echo   *echo.Echo
	srv    *http.Server
	logger *slog.Logger

	bus           *bus.Bus
	creds         credentialResolver
	guard         *usage.Guard
	usage         usageReader
	rules         ruleStore
	subscriptions subscriptionReader
	whop          *billing.Whop
	whopUpdater   billing.SubscriptionUpdater
	dbClient      *database.Client
	metrics       *metrics.Metrics
}

// Deps carries the server's collaborators.
type Deps struct {
	Bus           *bus.Bus
	Credentials   *credentials.Store
	Guard         *usage.Guard
	Usage         *usage.Accountant
	Rules         *alerts.Store
	Subscriptions *billing.Service
	Whop          *billing.Whop
	DB            *database.Client
	Metrics       *metrics.Metrics
}

// NewServer builds the HTTP server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		echo:          echo.New(),
		logger:        slog.Default().With("component", "api"),
		bus:           deps.Bus,
		creds:         deps.Credentials,
		guard:         deps.Guard,
		usage:         deps.Usage,
		rules:         deps.Rules,
		subscriptions: deps.Subscriptions,
		whop:          deps.Whop,
		whopUpdater:   deps.Subscriptions,
		dbClient:      deps.DB,
		metrics:       deps.Metrics,
	}

	s.echo.Use(securityHeaders())
	s.echo.Use(s.requestLogger())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/health/queue", s.queueHealthHandler)
	if s.metrics != nil {
		scrape := s.metrics.Handler()
		s.echo.GET("/metrics", func(c *echo.Context) error {
			scrape.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	v1 := s.echo.Group("/api/v1")

	events := v1.Group("/events", s.requireAPIKey)
	events.POST("", s.ingestEventHandler)
	events.POST("/batch", s.ingestBatchHandler)

	v1.POST("/billing/webhooks/whop", s.whopWebhookHandler)
	v1.GET("/billing/usage", s.usageHandler, s.requireAPIKey)
	v1.GET("/billing/subscription", s.subscriptionHandler, s.requireAPIKey)

	rules := v1.Group("/alert-rules", s.requireAPIKey)
	rules.GET("", s.listRulesHandler)
	rules.POST("", s.createRuleHandler)
	rules.GET("/:id", s.getRuleHandler)
	rules.PUT("/:id", s.updateRuleHandler)
	rules.DELETE("/:id", s.deleteRuleHandler)
}

// Start begins serving on addr. Blocks until the listener fails or the
// server is shut down.
func (s *Server) Start(addr string) error {
	s.logger.Info("HTTP server starting", "addr", addr)
	s.srv = &http.Server{Addr: addr, Handler: s.echo}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
