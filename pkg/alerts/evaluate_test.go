package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynex-ai/lynex/pkg/event"
)

func testEnvelope(typ event.Type, body map[string]any) *event.Envelope {
	return &event.Envelope{
		EventID:   "evt_1",
		ProjectID: "proj_1",
		Type:      typ,
		Timestamp: time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC),
		Body:      body,
	}
}

func TestEvaluateLatencyThreshold(t *testing.T) {
	rules := []Rule{{
		ID:        "r1",
		ProjectID: "proj_1",
		Name:      "slow responses",
		Condition: ConditionLatencyThreshold,
		EventType: "model_response",
		FieldPath: "body.latencyMs",
		Threshold: 1000,
		Severity:  SeverityWarning,
		Enabled:   true,
	}}
	e := testEnvelope(event.TypeModelResponse, map[string]any{"latencyMs": float64(1500)})

	fired := Evaluate(rules, e, &event.Enrichment{})
	require.Len(t, fired, 1)
	assert.Equal(t, "r1", fired[0].RuleID)
	assert.Equal(t, SeverityWarning, fired[0].Severity)
	assert.Equal(t, "proj_1", fired[0].ProjectID)
	assert.Contains(t, fired[0].Message, "1500")
	assert.Contains(t, fired[0].Message, "1000")
}

func TestEvaluateLatencyDefaultPath(t *testing.T) {
	rules := []Rule{{
		ID:        "r1",
		ProjectID: "proj_1",
		Condition: ConditionLatencyThreshold,
		Threshold: 100,
		Severity:  SeverityInfo,
		Enabled:   true,
	}}
	e := testEnvelope(event.TypeModelResponse, map[string]any{"latencyMs": float64(250)})

	fired := Evaluate(rules, e, nil)
	assert.Len(t, fired, 1)
}

func TestEvaluateLatencyBelowThreshold(t *testing.T) {
	rules := []Rule{{
		ID:        "r1",
		ProjectID: "proj_1",
		Condition: ConditionLatencyThreshold,
		Threshold: 1000,
		Enabled:   true,
	}}
	e := testEnvelope(event.TypeModelResponse, map[string]any{"latencyMs": float64(999)})

	assert.Empty(t, Evaluate(rules, e, nil))
}

func TestEvaluateErrorCount(t *testing.T) {
	rules := []Rule{{
		ID:        "r1",
		ProjectID: "proj_1",
		Condition: ConditionErrorCount,
		Severity:  SeverityCritical,
		Enabled:   true,
	}}

	fired := Evaluate(rules, testEnvelope(event.TypeError, map[string]any{"message": "database connection refused"}), nil)
	require.Len(t, fired, 1)
	assert.Equal(t, SeverityCritical, fired[0].Severity)
	assert.Equal(t, "Error occurred: database connection refused", fired[0].Message)

	assert.Empty(t, Evaluate(rules, testEnvelope(event.TypeLog, nil), nil))
}

func TestEvaluateErrorCountWithoutBodyMessage(t *testing.T) {
	rules := []Rule{{
		ID:        "r1",
		ProjectID: "proj_1",
		Condition: ConditionErrorCount,
		Enabled:   true,
	}}

	fired := Evaluate(rules, testEnvelope(event.TypeError, nil), nil)
	require.Len(t, fired, 1)
	assert.Equal(t, "Error occurred: Unknown error", fired[0].Message)
}

func TestEvaluateCostThreshold(t *testing.T) {
	rules := []Rule{{
		ID:        "r1",
		ProjectID: "proj_1",
		Condition: ConditionCostThreshold,
		Threshold: 0.05,
		Enabled:   true,
	}}
	e := testEnvelope(event.TypeTokenUsage, map[string]any{"model": "gpt-4"})

	fired := Evaluate(rules, e, &event.Enrichment{EstimatedCostUSD: 0.06})
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0].Message, "0.06")

	assert.Empty(t, Evaluate(rules, e, &event.Enrichment{EstimatedCostUSD: 0.04}))
	assert.Empty(t, Evaluate(rules, e, nil))
}

func TestEvaluateEventMatch(t *testing.T) {
	rules := []Rule{{
		ID:         "r1",
		ProjectID:  "proj_1",
		Condition:  ConditionEventMatch,
		FieldPath:  "body.finish_reason",
		FieldValue: "length",
		Enabled:    true,
	}}

	fired := Evaluate(rules, testEnvelope(event.TypeModelResponse,
		map[string]any{"finish_reason": "length"}), nil)
	assert.Len(t, fired, 1)

	assert.Empty(t, Evaluate(rules, testEnvelope(event.TypeModelResponse,
		map[string]any{"finish_reason": "stop"}), nil))
}

func TestEvaluateSkipsDisabledAndForeignRules(t *testing.T) {
	rules := []Rule{
		{ID: "disabled", ProjectID: "proj_1", Condition: ConditionErrorCount, Enabled: false},
		{ID: "foreign", ProjectID: "proj_2", Condition: ConditionErrorCount, Enabled: true},
		{ID: "wrong-type", ProjectID: "proj_1", Condition: ConditionErrorCount, EventType: "log", Enabled: true},
	}

	assert.Empty(t, Evaluate(rules, testEnvelope(event.TypeError, nil), nil))
}

func TestEvaluateNestedPath(t *testing.T) {
	rules := []Rule{{
		ID:         "r1",
		ProjectID:  "proj_1",
		Condition:  ConditionEventMatch,
		FieldPath:  "context.user.plan",
		FieldValue: "pro",
		Enabled:    true,
	}}
	e := testEnvelope(event.TypeCustom, nil)
	e.Context = map[string]any{"user": map[string]any{"plan": "pro"}}

	assert.Len(t, Evaluate(rules, e, nil), 1)
}

func TestManagerSnapshotSwap(t *testing.T) {
	src := &fakeSource{rules: []Rule{{ID: "r1", Enabled: true}}}
	m := NewManager(src, time.Minute)

	assert.Empty(t, m.Rules())

	require.NoError(t, m.Reload(context.Background()))
	assert.Len(t, m.Rules(), 1)

	src.err = assert.AnError
	require.Error(t, m.Reload(context.Background()))
	assert.Len(t, m.Rules(), 1, "failed reload keeps last snapshot")
}

type fakeSource struct {
	rules []Rule
	err   error
}

func (f *fakeSource) ListEnabled(context.Context) ([]Rule, error) {
	return f.rules, f.err
}
