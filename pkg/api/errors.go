package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// apiError is the structured error body every 4xx/5xx response carries.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Docs    string `json:"docs,omitempty"`
}

// docURLs maps error codes to documentation pages worth pointing at.
var docURLs = map[string]string{
	"missing_api_key":   "https://docs.lynex.ai/authentication",
	"malformed_api_key": "https://docs.lynex.ai/authentication",
	"invalid_api_key":   "https://docs.lynex.ai/authentication",
	"usage_limit":       "https://docs.lynex.ai/limits",
	"batch_too_large":   "https://docs.lynex.ai/ingestion#batching",
}

// jsonError is a handler error carrying a status code and a structured
// JSON response body. It implements echo.HTTPStatusCoder and
// json.Marshaler, so echo's default error handler renders the payload
// verbatim as the response body.
type jsonError struct {
	code    int
	payload any
}

func (e *jsonError) Error() string {
	return fmt.Sprintf("code=%d, message=%v", e.code, e.payload)
}

func (e *jsonError) StatusCode() int { return e.code }

func (e *jsonError) MarshalJSON() ([]byte, error) { return json.Marshal(e.payload) }

// newAPIError builds an HTTP error carrying the structured body.
func newAPIError(status int, code, message string) *jsonError {
	return &jsonError{code: status, payload: apiError{
		Error:   code,
		Message: message,
		Docs:    docURLs[code],
	}}
}

// validationError renders per-field validation failures.
func validationError(status int, fields any) *jsonError {
	return &jsonError{code: status, payload: map[string]any{
		"error":   "validation_failed",
		"message": "One or more event fields are invalid",
		"fields":  fields,
	}}
}

// busUnavailable is the 503 returned when the durable bus rejects a batch.
func busUnavailable() *jsonError {
	return newAPIError(http.StatusServiceUnavailable, "queue_unavailable",
		"Events could not be queued, retry the request")
}
