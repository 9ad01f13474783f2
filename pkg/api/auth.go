package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/lynex-ai/lynex/pkg/credentials"
)

// apiKeyHeader carries the cleartext key on ingest requests.
const apiKeyHeader = "X-API-Key"

// credentialContextKey stores the resolved credential on the request.
const credentialContextKey = "lynex.credential"

// requireAPIKey authenticates requests with the X-API-Key header.
// Missing or malformed keys are 401; unknown or inactive keys are 403.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		key := c.Request().Header.Get(apiKeyHeader)
		if key == "" {
			s.countRejection("missing_key")
			return newAPIError(http.StatusUnauthorized, "missing_api_key",
				"Provide your API key in the X-API-Key header")
		}

		cred, err := s.creds.Resolve(c.Request().Context(), key)
		if err != nil {
			switch {
			case errors.Is(err, credentials.ErrMalformed):
				s.countRejection("malformed_key")
				return newAPIError(http.StatusUnauthorized, "malformed_api_key",
					"API keys look like sk_live_... or sk_test_...")
			case errors.Is(err, credentials.ErrNotFound), errors.Is(err, credentials.ErrInactive):
				s.countRejection("invalid_key")
				return newAPIError(http.StatusForbidden, "invalid_api_key",
					"This API key is unknown or has been deactivated")
			default:
				s.logger.Error("Credential lookup failed", "error", err)
				return newAPIError(http.StatusServiceUnavailable, "auth_unavailable",
					"Authentication is temporarily unavailable, retry shortly")
			}
		}

		c.Set(credentialContextKey, cred)
		return next(c)
	}
}

// credentialFrom returns the authenticated credential set by requireAPIKey.
func credentialFrom(c *echo.Context) *credentials.Credential {
	cred, _ := c.Get(credentialContextKey).(*credentials.Credential)
	return cred
}

func (s *Server) countRejection(reason string) {
	if s.metrics != nil {
		s.metrics.EventsRejected.WithLabelValues(reason).Inc()
	}
}
