package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynex-ai/lynex/pkg/event"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func testEnvelope() map[string]any {
	return map[string]any{
		"project_id": "proj-1",
		"type":       "log",
		"sdk":        map[string]string{"name": "lynex-go", "version": "0.3.0"},
		"body":       map[string]any{"level": "info", "message": "model loaded"},
	}
}

func validEventBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(testEnvelope())
	require.NoError(t, err)
	return b
}

func TestIngestEventHandler(t *testing.T) {
	t.Run("accepted and queued", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doJSON(s, http.MethodPost, "/api/v1/events", validEventBody(t), testAPIKey)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp QueuedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "queued", resp.Status)
		assert.NotEmpty(t, resp.EventID)
	})

	t.Run("invalid json returns 400", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doJSON(s, http.MethodPost, "/api/v1/events", []byte("{nope"), testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_json")
	})

	t.Run("validation failure returns 422 with field errors", func(t *testing.T) {
		s, _ := newTestServer(t)
		env := testEnvelope()
		delete(env, "project_id")
		env["body"] = map[string]any{"level": "shout", "message": "x"}
		b, err := json.Marshal(env)
		require.NoError(t, err)

		rec := doJSON(s, http.MethodPost, "/api/v1/events", b, testAPIKey)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "validation_failed")
		assert.Contains(t, rec.Body.String(), "project_id")
		assert.Contains(t, rec.Body.String(), "body.level")
	})

	t.Run("over the monthly limit returns 429 with usage", func(t *testing.T) {
		s, backends := newTestServer(t)
		month := time.Now().UTC().Format("2006-01")
		require.NoError(t, backends.redis.Set("usage:user-1:"+month, "50000"))

		rec := doJSON(s, http.MethodPost, "/api/v1/events", validEventBody(t), testAPIKey)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "usage_limit")
		assert.Contains(t, rec.Body.String(), "free")
	})

	t.Run("client event id is preserved", func(t *testing.T) {
		s, _ := newTestServer(t)
		env := testEnvelope()
		env["event_id"] = "evt-provided"
		b, err := json.Marshal(env)
		require.NoError(t, err)

		rec := doJSON(s, http.MethodPost, "/api/v1/events", b, testAPIKey)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp QueuedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "evt-provided", resp.EventID)
	})
}

func TestIngestBatchHandler(t *testing.T) {
	t.Run("accepted in order", func(t *testing.T) {
		s, _ := newTestServer(t)
		first := testEnvelope()
		first["event_id"] = "evt-1"
		second := testEnvelope()
		second["event_id"] = "evt-2"
		b, err := json.Marshal([]map[string]any{first, second})
		require.NoError(t, err)

		rec := doJSON(s, http.MethodPost, "/api/v1/events/batch", b, testAPIKey)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp BatchQueuedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "queued", resp.Status)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, []string{"evt-1", "evt-2"}, resp.EventIDs)
	})

	t.Run("empty batch returns 400", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doJSON(s, http.MethodPost, "/api/v1/events/batch", []byte("[]"), testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "empty_batch")
	})

	t.Run("oversized batch returns 400", func(t *testing.T) {
		s, _ := newTestServer(t)
		envelopes := make([]map[string]any, event.MaxBatchSize+1)
		for i := range envelopes {
			envelopes[i] = testEnvelope()
		}
		b, err := json.Marshal(envelopes)
		require.NoError(t, err)

		rec := doJSON(s, http.MethodPost, "/api/v1/events/batch", b, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "batch_too_large")
	})

	t.Run("one invalid event fails the whole batch with its index", func(t *testing.T) {
		s, _ := newTestServer(t)
		good := testEnvelope()
		bad := testEnvelope()
		bad["body"] = map[string]any{"level": "info"} // message missing
		b, err := json.Marshal([]map[string]any{good, bad})
		require.NoError(t, err)

		rec := doJSON(s, http.MethodPost, "/api/v1/events/batch", b, testAPIKey)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "events[1]")
		assert.Contains(t, rec.Body.String(), "body.message")
	})

	t.Run("batch counts against the quota as a unit", func(t *testing.T) {
		s, backends := newTestServer(t)
		month := time.Now().UTC().Format("2006-01")
		require.NoError(t, backends.redis.Set("usage:user-1:"+month, "49999"))

		envelopes := make([]map[string]any, 3)
		for i := range envelopes {
			envelopes[i] = testEnvelope()
		}
		b, err := json.Marshal(envelopes)
		require.NoError(t, err)

		rec := doJSON(s, http.MethodPost, "/api/v1/events/batch", b, testAPIKey)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}
