package event

import "time"

// Enrichment carries the processor-computed fields attached to an envelope
// before storage and alert evaluation.
type Enrichment struct {
	ProcessedAt      time.Time      `json:"processed_at"`
	QueueLatencyMs   int64          `json:"queue_latency_ms"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	CostBreakdown    map[string]any `json:"cost_breakdown,omitempty"`
}
