package api

import (
	"encoding/json"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/lynex-ai/lynex/pkg/billing"
)

// whopSignatureHeader carries the webhook HMAC.
const whopSignatureHeader = "X-Whop-Signature"

// whopWebhookHandler handles POST /api/v1/billing/webhooks/whop. The raw
// body is read before decoding because the signature covers the exact
// bytes sent.
func (s *Server) whopWebhookHandler(c *echo.Context) error {
	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_body", err.Error())
	}

	if !s.whop.VerifySignature(rawBody, c.Request().Header.Get(whopSignatureHeader)) {
		s.logger.Warn("Rejected webhook with bad signature")
		return newAPIError(http.StatusBadRequest, "invalid_signature",
			"Webhook signature verification failed")
	}

	var event billing.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_json", err.Error())
	}

	if err := s.whop.HandleEvent(c.Request().Context(), s.whopUpdater, event); err != nil {
		s.logger.Error("Webhook handling failed", "action", event.Action, "error", err)
		return newAPIError(http.StatusInternalServerError, "webhook_failed",
			"The webhook could not be applied")
	}

	return c.JSON(http.StatusOK, &WebhookAck{Received: true})
}

// usageHandler handles GET /api/v1/billing/usage for the authenticated key.
func (s *Server) usageHandler(c *echo.Context) error {
	cred := credentialFrom(c)

	stats, err := s.usage.Current(c.Request().Context(), cred.UserID)
	if err != nil {
		s.logger.Error("Usage lookup failed", "user_id", cred.UserID, "error", err)
		return newAPIError(http.StatusServiceUnavailable, "usage_unavailable",
			"Usage is temporarily unavailable")
	}
	return c.JSON(http.StatusOK, stats)
}

// subscriptionHandler handles GET /api/v1/billing/subscription.
func (s *Server) subscriptionHandler(c *echo.Context) error {
	cred := credentialFrom(c)

	sub, err := s.subscriptions.GetSubscription(c.Request().Context(), cred.UserID)
	if err != nil {
		s.logger.Error("Subscription lookup failed", "user_id", cred.UserID, "error", err)
		return newAPIError(http.StatusServiceUnavailable, "billing_unavailable",
			"Billing is temporarily unavailable")
	}
	return c.JSON(http.StatusOK, sub)
}
