package api

import (
	"errors"
	"time"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogger records request outcomes and feeds the ingest latency
// histogram.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			if s.metrics != nil {
				s.metrics.IngestLatency.Observe(elapsed.Seconds())
			}

			status := 0
			if res, ok := c.Response().(*echo.Response); ok {
				status = res.Status
			}
			if err != nil {
				var sc echo.HTTPStatusCoder
				if errors.As(err, &sc) {
					status = sc.StatusCode()
				}
			}
			if status >= 500 {
				s.logger.Error("Request failed",
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"status", status,
					"duration_ms", elapsed.Milliseconds(),
					"error", err)
			} else {
				s.logger.Debug("Request",
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"status", status,
					"duration_ms", elapsed.Milliseconds())
			}
			return err
		}
	}
}
