package alerts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lynex-ai/lynex/pkg/event"
)

// defaultLatencyPath is resolved when a latency_threshold rule omits its
// field path.
const defaultLatencyPath = "body.latencyMs"

// Evaluate runs every rule in the snapshot against one enriched event and
// returns the alerts that fired. Project-id matching is exact on the
// canonical snake_case form.
func Evaluate(rules []Rule, e *event.Envelope, enriched *event.Enrichment) []Alert {
	var fired []Alert
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.ProjectID != e.ProjectID {
			continue
		}
		if rule.EventType != "" && rule.EventType != string(e.Type) {
			continue
		}
		if alert, ok := evaluateRule(rule, e, enriched); ok {
			fired = append(fired, alert)
		}
	}
	return fired
}

func evaluateRule(rule *Rule, e *event.Envelope, enriched *event.Enrichment) (Alert, bool) {
	var message string

	switch rule.Condition {
	case ConditionErrorCount:
		if e.Type != event.TypeError {
			return Alert{}, false
		}
		errMsg := "Unknown error"
		if m, ok := e.Body["message"].(string); ok && m != "" {
			errMsg = m
		}
		message = "Error occurred: " + errMsg

	case ConditionLatencyThreshold:
		path := rule.FieldPath
		if path == "" {
			path = defaultLatencyPath
		}
		value, ok := resolveNumber(e, enriched, path)
		if !ok || value <= rule.Threshold {
			return Alert{}, false
		}
		message = fmt.Sprintf("Latency %s exceeded threshold %s",
			formatNumber(value), formatNumber(rule.Threshold))

	case ConditionCostThreshold:
		if enriched == nil || enriched.EstimatedCostUSD <= rule.Threshold {
			return Alert{}, false
		}
		message = fmt.Sprintf("Estimated cost $%s exceeded threshold $%s",
			formatNumber(enriched.EstimatedCostUSD), formatNumber(rule.Threshold))

	case ConditionEventMatch:
		value, ok := resolveValue(e, enriched, rule.FieldPath)
		if !ok || stringify(value) != rule.FieldValue {
			return Alert{}, false
		}
		message = fmt.Sprintf("Field %s matched %q", rule.FieldPath, rule.FieldValue)

	default:
		return Alert{}, false
	}

	return Alert{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		ProjectID: e.ProjectID,
		Severity:  rule.Severity,
		Message:   message,
		EventID:   e.EventID,
		EventType: string(e.Type),
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	}, true
}

// resolveValue walks a dotted path against the event's field view. The
// first segment selects a top-level field (body, context, type, project_id,
// event_id); remaining segments descend into nested maps.
func resolveValue(e *event.Envelope, enriched *event.Enrichment, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	var current any
	switch segments[0] {
	case "body":
		current = mapToAny(e.Body)
	case "context":
		current = mapToAny(e.Context)
	case "type":
		current = string(e.Type)
	case "project_id":
		current = e.ProjectID
	case "event_id":
		current = e.EventID
	case "estimated_cost_usd":
		if enriched == nil {
			return nil, false
		}
		current = enriched.EstimatedCostUSD
	default:
		return nil, false
	}

	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func resolveNumber(e *event.Envelope, enriched *event.Enrichment, path string) (float64, bool) {
	value, ok := resolveValue(e, enriched, path)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// formatNumber renders integral floats without a trailing .0 so messages
// read "1500" rather than "1500.000000".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
