// Package processor consumes events from the durable bus, enriches them,
// evaluates alert rules, and hands them to the analytics writer.
package processor

import (
	"time"

	"github.com/lynex-ai/lynex/pkg/event"
	"github.com/lynex-ai/lynex/pkg/pricing"
)

// Enrich computes the processor-attached fields for one event. It is pure
// and never fails the event; missing inputs degrade to zero values.
func Enrich(e *event.Envelope, queuedAt time.Time, now time.Time) *event.Enrichment {
	enriched := &event.Enrichment{ProcessedAt: now.UTC()}

	if !queuedAt.IsZero() {
		latency := now.Sub(queuedAt).Milliseconds()
		if latency < 0 {
			latency = 0
		}
		enriched.QueueLatencyMs = latency
	}

	if e.Type == event.TypeTokenUsage {
		input, output, total := event.TokenCounts(e.Body)
		model := event.Model(e.Body)

		var cost pricing.Cost
		if input == 0 && output == 0 && total > 0 {
			cost = pricing.ComputeFromTotal(model, total)
		} else {
			cost = pricing.Compute(model, input, output)
		}

		enriched.EstimatedCostUSD = cost.TotalUSD
		enriched.CostBreakdown = map[string]any{
			"input_cost":  cost.InputUSD,
			"output_cost": cost.OutputUSD,
			"model":       cost.Model,
		}
	}

	return enriched
}
