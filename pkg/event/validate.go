package event

import (
	"fmt"
	"strings"
)

// MaxBatchSize is the largest batch the ingest boundary accepts.
const MaxBatchSize = 100

// FieldError describes a validation failure on a single envelope field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// ValidationErrors aggregates per-field failures for one envelope.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var messageRoles = map[string]bool{"user": true, "system": true, "assistant": true, "tool": true}

// Validate checks the envelope and its type-specific body contract.
// Returns nil when the envelope is acceptable. Unknown types pass with no
// body checks (custom-equivalent; never rejected).
func Validate(e *Envelope) ValidationErrors {
	var errs ValidationErrors

	if e.ProjectID == "" {
		errs = append(errs, FieldError{Field: "project_id", Message: "is required"})
	}
	if e.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "is required"})
	}
	if e.SDK.Name == "" {
		errs = append(errs, FieldError{Field: "sdk.name", Message: "is required"})
	}
	if e.SDK.Version == "" {
		errs = append(errs, FieldError{Field: "sdk.version", Message: "is required"})
	}

	errs = append(errs, validateBody(e.Type, e.Body)...)
	return errs
}

func validateBody(t Type, body map[string]any) ValidationErrors {
	var errs ValidationErrors

	switch t {
	case TypeLog, TypeMessage:
		if t == TypeLog {
			level, _ := bodyString(body, "level")
			if !logLevels[level] {
				errs = append(errs, FieldError{Field: "body.level", Message: "must be one of debug, info, warn, error"})
			}
			if _, ok := bodyString(body, "message"); !ok {
				errs = append(errs, FieldError{Field: "body.message", Message: "is required"})
			}
		} else {
			role, _ := bodyString(body, "role")
			if !messageRoles[role] {
				errs = append(errs, FieldError{Field: "body.role", Message: "must be one of user, system, assistant, tool"})
			}
			if _, ok := bodyString(body, "content"); !ok {
				errs = append(errs, FieldError{Field: "body.content", Message: "is required"})
			}
		}

	case TypeError:
		if _, ok := bodyString(body, "message"); !ok {
			errs = append(errs, FieldError{Field: "body.message", Message: "is required"})
		}

	case TypeSpan:
		if _, ok := bodyStringEither(body, "span_id", "spanId"); !ok {
			errs = append(errs, FieldError{Field: "body.span_id", Message: "is required"})
		}
		if _, ok := bodyString(body, "name"); !ok {
			errs = append(errs, FieldError{Field: "body.name", Message: "is required"})
		}
		if _, ok := body["start"]; !ok {
			errs = append(errs, FieldError{Field: "body.start", Message: "is required"})
		}

	case TypeTokenUsage:
		if _, ok := bodyString(body, "model"); !ok {
			errs = append(errs, FieldError{Field: "body.model", Message: "is required"})
		}
		if n, ok := bodyNumberEither(body, "input_tokens", "inputTokens"); !ok || n < 0 {
			errs = append(errs, FieldError{Field: "body.input_tokens", Message: "must be a non-negative integer"})
		}
		if n, ok := bodyNumberEither(body, "output_tokens", "outputTokens"); !ok || n < 0 {
			errs = append(errs, FieldError{Field: "body.output_tokens", Message: "must be a non-negative integer"})
		}

	case TypeModelResponse:
		for _, field := range []string{"model", "prompt", "response"} {
			if _, ok := bodyString(body, field); !ok {
				errs = append(errs, FieldError{Field: "body." + field, Message: "is required"})
			}
		}
		if n, ok := bodyNumberEither(body, "latency_ms", "latencyMs"); !ok || n < 0 {
			errs = append(errs, FieldError{Field: "body.latency_ms", Message: "must be a non-negative integer"})
		}

	case TypeAgentAction:
		if _, ok := bodyString(body, "action"); !ok {
			errs = append(errs, FieldError{Field: "body.action", Message: "is required"})
		}
		if _, ok := bodyString(body, "input"); !ok {
			errs = append(errs, FieldError{Field: "body.input", Message: "is required"})
		}

	case TypeRetrieval:
		if _, ok := bodyString(body, "query"); !ok {
			errs = append(errs, FieldError{Field: "body.query", Message: "is required"})
		}

	case TypeToolCall:
		if _, ok := bodyStringEither(body, "tool_name", "toolName"); !ok {
			errs = append(errs, FieldError{Field: "body.tool_name", Message: "is required"})
		}

	case TypeEvalMetric:
		if _, ok := bodyStringEither(body, "suite_id", "suiteId"); !ok {
			errs = append(errs, FieldError{Field: "body.suite_id", Message: "is required"})
		}
		if _, ok := bodyString(body, "metric"); !ok {
			errs = append(errs, FieldError{Field: "body.metric", Message: "is required"})
		}
		if _, ok := bodyNumber(body, "value"); !ok {
			errs = append(errs, FieldError{Field: "body.value", Message: "must be a number"})
		}

	default:
		// custom and unknown types carry free-form bodies
	}

	return errs
}

func bodyString(body map[string]any, key string) (string, bool) {
	v, ok := body[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func bodyStringEither(body map[string]any, snake, camel string) (string, bool) {
	if v, ok := bodyString(body, snake); ok {
		return v, true
	}
	return bodyString(body, camel)
}

func bodyNumber(body map[string]any, key string) (float64, bool) {
	switch v := body[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func bodyNumberEither(body map[string]any, snake, camel string) (float64, bool) {
	if v, ok := bodyNumber(body, snake); ok {
		return v, true
	}
	return bodyNumber(body, camel)
}

// TokenCounts extracts the token fields from a token_usage body, accepting
// either key casing. Missing fields degrade to zero.
func TokenCounts(body map[string]any) (input, output, total int64) {
	if v, ok := bodyNumberEither(body, "input_tokens", "inputTokens"); ok {
		input = int64(v)
	}
	if v, ok := bodyNumberEither(body, "output_tokens", "outputTokens"); ok {
		output = int64(v)
	}
	if v, ok := bodyNumberEither(body, "total_tokens", "totalTokens"); ok {
		total = int64(v)
	}
	return input, output, total
}

// Model extracts the model name from a body, or "" when absent.
func Model(body map[string]any) string {
	v, _ := bodyString(body, "model")
	return v
}
