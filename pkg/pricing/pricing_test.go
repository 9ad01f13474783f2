package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected string
	}{
		{"exact match", "gpt-4", "gpt-4"},
		{"versioned gpt-4", "gpt-4-0125-preview", "gpt-4"},
		{"versioned claude", "claude-3-opus-20240229", "claude-3-opus"},
		{"dated gpt-4o", "gpt-4o-2024-05-13", "gpt-4o"},
		{"longest prefix wins", "gpt-4o-mini-2024-07-18", "gpt-4o-mini"},
		{"turbo before base", "gpt-4-turbo-preview", "gpt-4-turbo"},
		{"uppercase and whitespace", "  GPT-4o  ", "gpt-4o"},
		{"unknown model", "llama-3-70b", "default"},
		{"empty", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.model))
		})
	}
}

func TestCompute(t *testing.T) {
	t.Run("gpt-4 seed scenario", func(t *testing.T) {
		// 1000 * 30/1e6 + 500 * 60/1e6 = 0.03 + 0.03 = 0.06
		cost := Compute("gpt-4", 1000, 500)
		assert.InDelta(t, 0.060000, cost.TotalUSD, 1e-6)
		assert.InDelta(t, 0.030000, cost.InputUSD, 1e-6)
		assert.InDelta(t, 0.030000, cost.OutputUSD, 1e-6)
		assert.Equal(t, "gpt-4", cost.Model)
	})

	t.Run("zero tokens cost zero", func(t *testing.T) {
		cost := Compute("claude-3-opus", 0, 0)
		assert.Zero(t, cost.TotalUSD)
	})

	t.Run("unknown model uses default rates", func(t *testing.T) {
		cost := Compute("some-future-model", 1_000_000, 1_000_000)
		assert.InDelta(t, 3.0, cost.TotalUSD, 1e-6)
		assert.Equal(t, DefaultModelKey, cost.Model)
	})

	t.Run("rounds to six decimals", func(t *testing.T) {
		cost := Compute("gpt-4o-mini", 7, 3)
		// 7*0.15/1e6 + 3*0.60/1e6 = 0.00000105 + 0.0000018 -> 0.000003 after rounding
		assert.InDelta(t, 0.000003, cost.TotalUSD, 1e-9)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Compute("claude-3-5-sonnet", 123456, 654321)
		b := Compute("claude-3-5-sonnet", 123456, 654321)
		assert.Equal(t, a, b)
	})
}

func TestComputeFromTotal(t *testing.T) {
	// 1000 total -> 700 input, 300 output on gpt-4: 0.021 + 0.018 = 0.039
	cost := ComputeFromTotal("gpt-4", 1000)
	assert.InDelta(t, 0.039, cost.TotalUSD, 1e-6)
}

func TestRateFor(t *testing.T) {
	rate := RateFor("gemini-1.5-pro-latest")
	assert.Equal(t, 3.5, rate.InputPerMillion)
	assert.Equal(t, 10.5, rate.OutputPerMillion)
}
