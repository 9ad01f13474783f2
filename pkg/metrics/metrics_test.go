package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsScrape(t *testing.T) {
	m := New()
	m.EventsReceived.WithLabelValues("log").Inc()
	m.EventsQueued.Inc()
	m.QueueMode.Set(1)
	m.BufferDepth.Set(42)
	m.AlertsFired.WithLabelValues("warning").Add(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `lynex_events_received_total{type="log"} 1`)
	assert.Contains(t, out, "lynex_events_queued_total 1")
	assert.Contains(t, out, "lynex_queue_memory_mode 1")
	assert.Contains(t, out, "lynex_analytics_buffer_depth 42")
	assert.Contains(t, out, `lynex_alerts_fired_total{severity="warning"} 3`)
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.EventsQueued.Inc()

	// each New() gets its own registry, so counters never collide
	assert.NotPanics(t, func() { b.EventsQueued.Inc() })
}
