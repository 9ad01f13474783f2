package api

import (
	"github.com/lynex-ai/lynex/pkg/bus"
	"github.com/lynex-ai/lynex/pkg/database"
	"github.com/lynex-ai/lynex/pkg/usage"
)

// QueuedResponse is returned by POST /api/v1/events.
type QueuedResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// BatchQueuedResponse is returned by POST /api/v1/events/batch.
type BatchQueuedResponse struct {
	Status   string   `json:"status"`
	Count    int      `json:"count"`
	EventIDs []string `json:"event_ids"`
}

// LimitResponse is the 429 body with the caller's usage position.
type LimitResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Usage   *usage.Stats `json:"usage,omitempty"`
	Docs    string       `json:"docs,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Queue    *bus.Stats             `json:"queue,omitempty"`
	Database *database.HealthStatus `json:"database,omitempty"`
}

// WebhookAck is returned by the billing webhook endpoint.
type WebhookAck struct {
	Received bool `json:"received"`
}
