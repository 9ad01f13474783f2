package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/lynex-ai/lynex/pkg/database"
	"github.com/lynex-ai/lynex/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /health. Reports degraded when the bus has
// fallen back to the in-memory queue; events are still accepted but are
// not durable.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.Version,
	}

	if stats, err := s.bus.Stats(reqCtx); err == nil {
		resp.Queue = stats
	}
	if s.bus.MemoryMode() {
		resp.Status = healthStatusDegraded
	}

	if s.dbClient != nil {
		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusDegraded
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// queueHealthHandler handles GET /health/queue with raw queue stats.
func (s *Server) queueHealthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := s.bus.Stats(reqCtx)
	if err != nil {
		return newAPIError(http.StatusServiceUnavailable, "queue_unavailable", err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
