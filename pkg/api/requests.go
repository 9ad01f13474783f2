package api

import "github.com/lynex-ai/lynex/pkg/alerts"

// RuleRequest is the body for alert rule create and update.
type RuleRequest struct {
	Name       string           `json:"name"`
	Condition  alerts.Condition `json:"condition"`
	Threshold  float64          `json:"threshold"`
	Severity   string           `json:"severity"`
	EventType  string           `json:"event_type"`
	FieldPath  string           `json:"field_path"`
	FieldValue string           `json:"field_value"`
	Channels   []string         `json:"channels"`
	Enabled    *bool            `json:"enabled"`
}
