package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bus field names. The flattened form carries the envelope as a string map
// so it can travel as stream message fields.
const (
	FieldEventID       = "event_id"
	FieldProjectID     = "project_id"
	FieldType          = "type"
	FieldTimestamp     = "timestamp"
	FieldSDKName       = "sdk_name"
	FieldSDKVersion    = "sdk_version"
	FieldBody          = "body"
	FieldContext       = "context"
	FieldTraceID       = "trace_id"
	FieldParentEventID = "parent_event_id"
	FieldQueuedAt      = "queued_at"
)

// Flatten serializes the envelope into bus message fields, stamping
// queued_at. Body and context travel as JSON strings.
func Flatten(e *Envelope, queuedAt time.Time) (map[string]any, error) {
	body, err := json.Marshal(e.Body)
	if err != nil {
		return nil, fmt.Errorf("marshaling event body: %w", err)
	}

	contextJSON := "{}"
	if e.Context != nil {
		raw, err := json.Marshal(e.Context)
		if err != nil {
			return nil, fmt.Errorf("marshaling event context: %w", err)
		}
		contextJSON = string(raw)
	}

	fields := map[string]any{
		FieldEventID:    e.EventID,
		FieldProjectID:  e.ProjectID,
		FieldType:       string(e.Type),
		FieldTimestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		FieldSDKName:    e.SDK.Name,
		FieldSDKVersion: e.SDK.Version,
		FieldBody:       string(body),
		FieldContext:    contextJSON,
		FieldQueuedAt:   queuedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.TraceID != "" {
		fields[FieldTraceID] = e.TraceID
	}
	if e.ParentEventID != "" {
		fields[FieldParentEventID] = e.ParentEventID
	}
	return fields, nil
}

// Unflatten parses bus message fields back into an envelope plus the
// queued_at stamp. Malformed body or context degrade to empty maps rather
// than failing the message; the envelope identity fields must be present.
func Unflatten(fields map[string]string) (*Envelope, time.Time, error) {
	eventID := fields[FieldEventID]
	if eventID == "" {
		return nil, time.Time{}, fmt.Errorf("bus message missing %s", FieldEventID)
	}

	e := &Envelope{
		EventID:       eventID,
		ProjectID:     fields[FieldProjectID],
		Type:          Type(fields[FieldType]),
		TraceID:       fields[FieldTraceID],
		ParentEventID: fields[FieldParentEventID],
		SDK: SDKInfo{
			Name:    fields[FieldSDKName],
			Version: fields[FieldSDKVersion],
		},
		Body: map[string]any{},
	}

	if ts, err := time.Parse(time.RFC3339Nano, fields[FieldTimestamp]); err == nil {
		e.Timestamp = ts
	}

	if raw := fields[FieldBody]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.Body)
	}
	if raw := fields[FieldContext]; raw != "" && raw != "{}" {
		ctx := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &ctx); err == nil {
			e.Context = ctx
		}
	}

	var queuedAt time.Time
	if ts, err := time.Parse(time.RFC3339Nano, fields[FieldQueuedAt]); err == nil {
		queuedAt = ts
	}

	return e, queuedAt, nil
}
