package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynex-ai/lynex/pkg/billing"
	"github.com/lynex-ai/lynex/pkg/usage"
)

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(s *Server, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/whop", bytesReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(whopSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestWhopWebhookHandler(t *testing.T) {
	membershipBody := []byte(`{
		"action": "membership.went_valid",
		"data": {
			"id": "mem_123",
			"user_id": "user-1",
			"plan_id": "plan_pro_monthly",
			"valid": true,
			"renewal_period_start": 1718000000,
			"renewal_period_end": 1720592000
		}
	}`)

	t.Run("bad signature returns 400", func(t *testing.T) {
		s, backends := newTestServer(t)
		rec := postWebhook(s, membershipBody, "deadbeef")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_signature")
		assert.Empty(t, backends.updater.memberships)
	})

	t.Run("missing signature returns 400", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := postWebhook(s, membershipBody, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid membership event is applied", func(t *testing.T) {
		s, backends := newTestServer(t)
		rec := postWebhook(s, membershipBody, signWebhook(membershipBody))
		require.Equal(t, http.StatusOK, rec.Code)

		var ack WebhookAck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
		assert.True(t, ack.Received)

		require.Len(t, backends.updater.memberships, 1)
		data := backends.updater.memberships[0]
		assert.Equal(t, "user-1", data.UserID)
		assert.Equal(t, "plan_pro_monthly", data.PlanID)
		assert.True(t, data.Valid)
	})

	t.Run("payment failure marks the user past due", func(t *testing.T) {
		s, backends := newTestServer(t)
		body := []byte(`{"action": "payment.failed", "data": {"user_id": "user-1"}}`)
		rec := postWebhook(s, body, signWebhook(body))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"user-1"}, backends.updater.pastDue)
	})

	t.Run("unknown action is acknowledged", func(t *testing.T) {
		s, backends := newTestServer(t)
		body := []byte(`{"action": "dispute.created", "data": {}}`)
		rec := postWebhook(s, body, signWebhook(body))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, backends.updater.memberships)
		assert.Empty(t, backends.updater.pastDue)
	})
}

func TestUsageHandler(t *testing.T) {
	s, backends := newTestServer(t)
	month := time.Now().UTC().Format("2006-01")
	require.NoError(t, backends.redis.Set("usage:user-1:"+month, "123"))

	rec := doJSON(s, http.MethodGet, "/api/v1/billing/usage", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats usage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 123, stats.Used)
	assert.Equal(t, billing.TierFree, stats.Tier)
	assert.Equal(t, month, stats.Period)
}

func TestSubscriptionHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/api/v1/billing/subscription", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var sub billing.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "user-1", sub.UserID)
	assert.Equal(t, billing.TierFree, sub.Tier)
	assert.Equal(t, "active", sub.Status)
}
