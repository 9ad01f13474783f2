// Package event defines the telemetry event envelope, its per-type body
// contracts, and the flattened wire form used on the durable bus.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies an event envelope.
type Type string

// Known event types.
const (
	TypeLog           Type = "log"
	TypeError         Type = "error"
	TypeSpan          Type = "span"
	TypeTokenUsage    Type = "token_usage"
	TypeMessage       Type = "message"
	TypeModelResponse Type = "model_response"
	TypeAgentAction   Type = "agent_action"
	TypeRetrieval     Type = "retrieval"
	TypeToolCall      Type = "tool_call"
	TypeEvalMetric    Type = "eval_metric"
	TypeCustom        Type = "custom"
)

var knownTypes = map[Type]bool{
	TypeLog:           true,
	TypeError:         true,
	TypeSpan:          true,
	TypeTokenUsage:    true,
	TypeMessage:       true,
	TypeModelResponse: true,
	TypeAgentAction:   true,
	TypeRetrieval:     true,
	TypeToolCall:      true,
	TypeEvalMetric:    true,
	TypeCustom:        true,
}

// Known reports whether t is a recognized event type. Unknown types are
// still accepted at ingest and handled as custom-equivalent.
func (t Type) Known() bool {
	return knownTypes[t]
}

// SDKInfo identifies the emitting client SDK.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Envelope is the typed wrapper around a single telemetry record. It is
// immutable after creation by the client; server-side fields added during
// processing live in processor.Enriched, not here.
type Envelope struct {
	EventID       string         `json:"event_id"`
	ProjectID     string         `json:"project_id"`
	Type          Type           `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	SDK           SDKInfo        `json:"sdk"`
	Body          map[string]any `json:"body"`
	Context       map[string]any `json:"context,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
}

// envelopeWire mirrors Envelope with both camelCase and snake_case keys.
// The SDKs emit camelCase; internal producers use the canonical snake_case.
type envelopeWire struct {
	EventID      string         `json:"eventId"`
	EventIDSnake string         `json:"event_id"`
	ProjectID    string         `json:"projectId"`
	ProjectSnake string         `json:"project_id"`
	Type         Type           `json:"type"`
	Timestamp    *time.Time     `json:"timestamp"`
	SDK          SDKInfo        `json:"sdk"`
	Body         map[string]any `json:"body"`
	Context      map[string]any `json:"context"`
	TraceID      string         `json:"traceId"`
	TraceSnake   string         `json:"trace_id"`
	ParentID     string         `json:"parentEventId"`
	ParentSnake  string         `json:"parent_event_id"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON accepts either camelCase or snake_case field names and
// normalizes to the canonical snake_case form.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding event envelope: %w", err)
	}

	e.EventID = firstNonEmpty(w.EventIDSnake, w.EventID)
	e.ProjectID = firstNonEmpty(w.ProjectSnake, w.ProjectID)
	e.Type = w.Type
	if w.Timestamp != nil {
		e.Timestamp = *w.Timestamp
	}
	e.SDK = w.SDK
	e.Body = w.Body
	e.Context = w.Context
	e.TraceID = firstNonEmpty(w.TraceSnake, w.TraceID)
	e.ParentEventID = firstNonEmpty(w.ParentSnake, w.ParentID)
	return nil
}

// ApplyDefaults fills the client-assignable fields the SDK may omit: a fresh
// event id and a server-now timestamp.
func (e *Envelope) ApplyDefaults(now time.Time) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Body == nil {
		e.Body = map[string]any{}
	}
}
