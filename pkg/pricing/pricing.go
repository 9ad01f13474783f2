// Package pricing provides the model price table and cost computation for
// token-usage events.
package pricing

import (
	"math"
	"sort"
	"strings"
)

// Rate holds per-million-token prices in USD for a model family.
type Rate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultModelKey is the fallback table entry for unknown models.
const DefaultModelKey = "default"

// modelRates maps normalized model-family keys to their unit prices.
// Prices are per 1M tokens in USD, current as of December 2025.
var modelRates = map[string]Rate{
	// OpenAI
	"gpt-4":             {InputPerMillion: 30.0, OutputPerMillion: 60.0},
	"gpt-4-turbo":       {InputPerMillion: 10.0, OutputPerMillion: 30.0},
	"gpt-4o":            {InputPerMillion: 5.0, OutputPerMillion: 15.0},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-3.5-turbo":     {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"gpt-3.5-turbo-16k": {InputPerMillion: 3.0, OutputPerMillion: 4.0},

	// Anthropic
	"claude-3-opus":     {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-3-sonnet":   {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-haiku":    {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"claude-3-5-sonnet": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-5-haiku":  {InputPerMillion: 1.0, OutputPerMillion: 5.0},

	// Google
	"gemini-pro":        {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"gemini-pro-vision": {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"gemini-1.5-pro":    {InputPerMillion: 3.5, OutputPerMillion: 10.5},
	"gemini-1.5-flash":  {InputPerMillion: 0.35, OutputPerMillion: 1.05},

	// Mistral
	"mistral-small":  {InputPerMillion: 1.0, OutputPerMillion: 3.0},
	"mistral-medium": {InputPerMillion: 2.7, OutputPerMillion: 8.1},
	"mistral-large":  {InputPerMillion: 4.0, OutputPerMillion: 12.0},

	// Cohere
	"command":        {InputPerMillion: 1.0, OutputPerMillion: 2.0},
	"command-light":  {InputPerMillion: 0.30, OutputPerMillion: 0.60},
	"command-r":      {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"command-r-plus": {InputPerMillion: 3.0, OutputPerMillion: 15.0},

	DefaultModelKey: {InputPerMillion: 1.0, OutputPerMillion: 2.0},
}

// sortedKeys lists table keys longest-first so that prefix matching resolves
// "gpt-4o-mini-2024-07-18" to "gpt-4o-mini" rather than "gpt-4".
var sortedKeys = func() []string {
	keys := make([]string, 0, len(modelRates))
	for k := range modelRates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Normalize resolves a raw model name to a pricing-table key.
// Exact match wins; otherwise the longest table key that prefixes the name;
// otherwise "default".
//
// Examples:
//
//	"gpt-4-0125-preview"      -> "gpt-4"
//	"claude-3-opus-20240229"  -> "claude-3-opus"
//	"GPT-4o-2024-05-13"       -> "gpt-4o"
func Normalize(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if _, ok := modelRates[model]; ok {
		return model
	}
	for _, key := range sortedKeys {
		if strings.HasPrefix(model, key) {
			return key
		}
	}
	return DefaultModelKey
}

// RateFor returns the unit prices for a model, falling back to the default
// row for unknown names.
func RateFor(model string) Rate {
	return modelRates[Normalize(model)]
}

// Cost is the result of a cost computation.
type Cost struct {
	TotalUSD  float64
	InputUSD  float64
	OutputUSD float64
	Model     string // normalized table key
}

// Compute calculates the USD cost of a model invocation from exact input and
// output token counts. Pure and deterministic; zero tokens cost zero.
func Compute(model string, inputTokens, outputTokens int64) Cost {
	key := Normalize(model)
	rate := modelRates[key]

	inputCost := float64(inputTokens) / 1e6 * rate.InputPerMillion
	outputCost := float64(outputTokens) / 1e6 * rate.OutputPerMillion

	return Cost{
		TotalUSD:  round6(inputCost + outputCost),
		InputUSD:  round6(inputCost),
		OutputUSD: round6(outputCost),
		Model:     key,
	}
}

// ComputeFromTotal estimates cost when only a total token count is known,
// assuming the typical 70/30 input/output split.
func ComputeFromTotal(model string, totalTokens int64) Cost {
	input := int64(float64(totalTokens) * 0.7)
	output := int64(float64(totalTokens) * 0.3)
	return Compute(model, input, output)
}

// round6 rounds to 6 decimal places, the smallest cost increment stored.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
