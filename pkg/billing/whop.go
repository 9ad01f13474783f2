package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Webhook actions sent by Whop.
const (
	ActionMembershipValid   = "membership.went_valid"
	ActionMembershipInvalid = "membership.went_invalid"
	ActionPaymentSucceeded  = "payment.succeeded"
	ActionPaymentFailed     = "payment.failed"
)

// WebhookEvent is the decoded webhook body.
type WebhookEvent struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// WhopConfig holds payment-provider settings.
type WhopConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

// DefaultWhopConfig returns provider defaults; credentials come from env.
func DefaultWhopConfig() WhopConfig {
	return WhopConfig{BaseURL: "https://api.whop.com/api/v2"}
}

// Whop verifies inbound webhooks and talks to the provider API.
type Whop struct {
	cfg    WhopConfig
	client *http.Client
	logger *slog.Logger
}

func NewWhop(cfg WhopConfig) *Whop {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWhopConfig().BaseURL
	}
	return &Whop{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default().With("component", "whop"),
	}
}

// VerifySignature checks the hex HMAC-SHA-256 of the raw body against the
// supplied header value in constant time. An empty configured secret
// bypasses verification for local development and must never be deployed.
func (w *Whop) VerifySignature(rawBody []byte, signature string) bool {
	if w.cfg.WebhookSecret == "" {
		w.logger.Warn("WHOP_WEBHOOK_SECRET not set, skipping webhook signature verification")
		return true
	}

	mac := hmac.New(sha256.New, []byte(w.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SubscriptionUpdater is the subscription-state surface webhook handling
// needs. Satisfied by *Service.
type SubscriptionUpdater interface {
	UpdateFromWebhook(ctx context.Context, data MembershipData) error
	MarkPastDue(ctx context.Context, userID string) error
}

// HandleEvent applies one verified webhook event to the subscription state.
// Unknown actions are logged and acknowledged so the provider does not
// retry them forever.
func (w *Whop) HandleEvent(ctx context.Context, svc SubscriptionUpdater, event WebhookEvent) error {
	switch event.Action {
	case ActionMembershipValid, ActionMembershipInvalid:
		var data MembershipData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decoding membership data: %w", err)
		}
		return svc.UpdateFromWebhook(ctx, data)

	case ActionPaymentFailed:
		var data struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decoding payment data: %w", err)
		}
		if data.UserID == "" {
			return fmt.Errorf("payment payload has no user id")
		}
		return svc.MarkPastDue(ctx, data.UserID)

	case ActionPaymentSucceeded:
		// Period rollover arrives via membership.went_valid; nothing to do.
		return nil

	default:
		w.logger.Info("Ignoring unhandled webhook action", "action", event.Action)
		return nil
	}
}

// FetchMembership retrieves a membership record from the provider API,
// retrying transient failures with exponential backoff.
func (w *Whop) FetchMembership(ctx context.Context, membershipID string) (*MembershipData, error) {
	var data MembershipData

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/memberships/%s", w.cfg.BaseURL, membershipID), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("membership %s not found", membershipID))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding membership: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(newRetryPolicy(3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetching membership %s: %w", membershipID, err)
	}
	return &data, nil
}

// newRetryPolicy builds the shared transient-error envelope: exponential
// backoff from 1s capped at 10s, limited to maxAttempts tries.
func newRetryPolicy(maxAttempts uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 10 * time.Second
	return backoff.WithMaxRetries(b, maxAttempts-1)
}
