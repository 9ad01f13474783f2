// Package analytics persists enriched events into ClickHouse through a
// buffered, batched writer, and serves the archival read/delete queries.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/lynex-ai/lynex/pkg/event"
)

// StoredEvent is one row of the events table. Body, context, and the cost
// breakdown are stored as JSON strings so the schema stays stable across
// event types.
type StoredEvent struct {
	EventID          string    `parquet:"event_id"`
	ProjectID        string    `parquet:"project_id"`
	EventType        string    `parquet:"type"`
	Timestamp        time.Time `parquet:"timestamp"`
	Body             string    `parquet:"body"`
	Context          string    `parquet:"context"`
	TraceID          string    `parquet:"trace_id"`
	ParentEventID    string    `parquet:"parent_event_id"`
	SDKName          string    `parquet:"sdk_name"`
	SDKVersion       string    `parquet:"sdk_version"`
	QueuedAt         time.Time `parquet:"queued_at"`
	ProcessedAt      time.Time `parquet:"processed_at"`
	QueueLatencyMs   float32   `parquet:"queue_latency_ms"`
	EstimatedCostUSD float64   `parquet:"estimated_cost_usd"`
	CostBreakdown    string    `parquet:"cost_breakdown"`
}

// NewStoredEvent flattens an enriched envelope into a table row. Encoding
// failures degrade to empty JSON objects rather than failing the event.
func NewStoredEvent(e *event.Envelope, enriched *event.Enrichment, queuedAt time.Time) StoredEvent {
	row := StoredEvent{
		EventID:       e.EventID,
		ProjectID:     e.ProjectID,
		EventType:     string(e.Type),
		Timestamp:     e.Timestamp.UTC(),
		Body:          encodeJSON(e.Body),
		Context:       encodeJSON(e.Context),
		TraceID:       e.TraceID,
		ParentEventID: e.ParentEventID,
		SDKName:       e.SDK.Name,
		SDKVersion:    e.SDK.Version,
		QueuedAt:      queuedAt.UTC(),
	}
	if enriched != nil {
		row.ProcessedAt = enriched.ProcessedAt.UTC()
		row.QueueLatencyMs = float32(enriched.QueueLatencyMs)
		row.EstimatedCostUSD = enriched.EstimatedCostUSD
		row.CostBreakdown = encodeJSON(enriched.CostBreakdown)
	}
	return row
}

func encodeJSON(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
