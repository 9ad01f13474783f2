package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynex-ai/lynex/pkg/alerts"
)

func testAlert() alerts.Alert {
	return alerts.Alert{
		RuleID:    "r1",
		RuleName:  "slow responses",
		ProjectID: "proj_1",
		Severity:  alerts.SeverityWarning,
		Message:   "Latency 1500 exceeded threshold 1000",
		EventID:   "evt_1",
		EventType: "model_response",
	}
}

func TestWebhookNotifierSend(t *testing.T) {
	var received alerts.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Send(context.Background(), testAlert()))
	assert.Equal(t, "r1", received.RuleID)
	assert.Equal(t, "Latency 1500 exceeded threshold 1000", received.Message)
}

func TestWebhookNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	assert.Error(t, n.Send(context.Background(), testAlert()))
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &ConsoleNotifier{out: &buf}

	require.NoError(t, n.Send(context.Background(), testAlert()))
	out := buf.String()
	assert.Contains(t, out, "slow responses")
	assert.Contains(t, out, "proj_1")
	assert.Contains(t, out, "warning")
}

func TestNewSlackNotifierNilWithoutURL(t *testing.T) {
	assert.Nil(t, NewSlackNotifier(""))
	assert.NotNil(t, NewSlackNotifier("https://hooks.slack.com/services/x"))
}

type fakeSink struct {
	channel string
	err     error
	calls   atomic.Int64
}

func (f *fakeSink) Channel() string { return f.channel }

func (f *fakeSink) Send(context.Context, alerts.Alert) error {
	f.calls.Add(1)
	return f.err
}

func TestDispatchFanOut(t *testing.T) {
	ok := &fakeSink{channel: "webhook"}
	failing := &fakeSink{channel: "console", err: errors.New("tty gone")}
	d := NewDispatcher(ok, failing)

	results := d.Dispatch(context.Background(), testAlert(), nil)
	require.Len(t, results, 2)

	byChannel := map[string]Result{}
	for _, r := range results {
		byChannel[r.Channel] = r
	}
	assert.True(t, byChannel["webhook"].Success)
	assert.False(t, byChannel["console"].Success)
	assert.Equal(t, int64(1), ok.calls.Load())
	assert.Equal(t, int64(1), failing.calls.Load())
}

func TestDispatchChannelSelection(t *testing.T) {
	webhook := &fakeSink{channel: "webhook"}
	console := &fakeSink{channel: "console"}
	d := NewDispatcher(webhook, console)

	results := d.Dispatch(context.Background(), testAlert(), []string{"console"})
	require.Len(t, results, 1)
	assert.Equal(t, "console", results[0].Channel)
	assert.Zero(t, webhook.calls.Load())
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := NewDispatcher(&fakeSink{channel: "webhook"})

	assert.Empty(t, d.Dispatch(context.Background(), testAlert(), []string{"pager"}))
}
