// Package alerts implements the per-event alert rule engine: a Postgres
// rule store, a periodically reloaded in-memory snapshot, and the
// evaluator that turns matching events into alert instances.
package alerts

import (
	"time"
)

// Condition is a rule's predicate kind.
type Condition string

const (
	// ConditionErrorCount fires on every error event. The threshold is
	// retained for future windowed variants.
	ConditionErrorCount Condition = "error_count"

	// ConditionLatencyThreshold fires when a dotted-path numeric value
	// exceeds the threshold. Default path is body.latencyMs.
	ConditionLatencyThreshold Condition = "latency_threshold"

	// ConditionCostThreshold fires when the enriched cost estimate
	// exceeds the threshold.
	ConditionCostThreshold Condition = "cost_threshold"

	// ConditionEventMatch fires when a dotted-path value stringifies to
	// the rule's field value.
	ConditionEventMatch Condition = "event_match"
)

// Conditions lists the accepted condition kinds.
func Conditions() []Condition {
	return []Condition{
		ConditionErrorCount,
		ConditionLatencyThreshold,
		ConditionCostThreshold,
		ConditionEventMatch,
	}
}

// Severity levels in increasing order of urgency.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// ValidCondition reports whether c is a known condition kind.
func ValidCondition(c Condition) bool {
	for _, known := range Conditions() {
		if c == known {
			return true
		}
	}
	return false
}

// Rule is one alert rule. A disabled rule is inert; a rule only sees events
// from its own project.
type Rule struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	Condition  Condition `json:"condition"`
	Threshold  float64   `json:"threshold"`
	Severity   string    `json:"severity"`
	EventType  string    `json:"event_type,omitempty"` // optional filter
	FieldPath  string    `json:"field_path,omitempty"`
	FieldValue string    `json:"field_value,omitempty"`
	Channels   []string  `json:"channels"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Alert is an ephemeral alert instance: produced during evaluation, handed
// to notifiers, never persisted by the engine.
type Alert struct {
	RuleID    string `json:"rule_id"`
	RuleName  string `json:"rule_name"`
	ProjectID string `json:"project_id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}
