package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/lynex-ai/lynex/pkg/event"
)

// ingestEventHandler handles POST /api/v1/events.
// The event is validated, flattened, and appended to the durable bus; the
// 202 acknowledges queueing, not delivery.
func (s *Server) ingestEventHandler(c *echo.Context) error {
	cred := credentialFrom(c)

	var e event.Envelope
	if err := json.NewDecoder(c.Request().Body).Decode(&e); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_json", err.Error())
	}

	allowed, stats := s.guard.Allow(c.Request().Context(), cred, 1)
	if !allowed {
		s.countRejection("usage_limit")
		return &jsonError{code: http.StatusTooManyRequests, payload: LimitResponse{
			Error:   "usage_limit",
			Message: fmt.Sprintf("Monthly event limit of %d reached for the %s tier", stats.Limit, stats.Tier),
			Usage:   stats,
			Docs:    docURLs["usage_limit"],
		}}
	}

	e.ApplyDefaults(time.Now())
	if errs := event.Validate(&e); len(errs) > 0 {
		s.countRejection("validation")
		return validationError(http.StatusUnprocessableEntity, errs)
	}

	s.checkProjectMismatch(cred.ProjectID, &e)

	fields, err := event.Flatten(&e, time.Now().UTC())
	if err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_event", err.Error())
	}
	if _, err := s.bus.Append(c.Request().Context(), fields); err != nil {
		s.logger.Error("Failed to queue event", "event_id", e.EventID, "error", err)
		return busUnavailable()
	}

	if s.metrics != nil {
		s.metrics.EventsReceived.WithLabelValues(string(e.Type)).Inc()
		s.metrics.EventsQueued.Inc()
		s.observeQueueMode()
	}

	return c.JSON(http.StatusAccepted, &QueuedResponse{
		Status:  "queued",
		EventID: e.EventID,
	})
}

// ingestBatchHandler handles POST /api/v1/events/batch. The batch is
// appended in input order through one pipelined round-trip; partial
// failure surfaces as a full-batch 503 and the caller retries.
func (s *Server) ingestBatchHandler(c *echo.Context) error {
	cred := credentialFrom(c)

	var envelopes []event.Envelope
	if err := json.NewDecoder(c.Request().Body).Decode(&envelopes); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_json", err.Error())
	}
	if len(envelopes) == 0 {
		return newAPIError(http.StatusBadRequest, "empty_batch", "The batch contains no events")
	}
	if len(envelopes) > event.MaxBatchSize {
		s.countRejection("batch_too_large")
		return newAPIError(http.StatusBadRequest, "batch_too_large",
			fmt.Sprintf("Batches are limited to %d events, got %d", event.MaxBatchSize, len(envelopes)))
	}

	allowed, stats := s.guard.Allow(c.Request().Context(), cred, int64(len(envelopes)))
	if !allowed {
		s.countRejection("usage_limit")
		return &jsonError{code: http.StatusTooManyRequests, payload: LimitResponse{
			Error:   "usage_limit",
			Message: fmt.Sprintf("Monthly event limit of %d reached for the %s tier", stats.Limit, stats.Tier),
			Usage:   stats,
			Docs:    docURLs["usage_limit"],
		}}
	}

	now := time.Now()
	fieldErrors := map[string]any{}
	batch := make([]map[string]any, 0, len(envelopes))
	eventIDs := make([]string, 0, len(envelopes))
	for i := range envelopes {
		e := &envelopes[i]
		e.ApplyDefaults(now)
		if errs := event.Validate(e); len(errs) > 0 {
			fieldErrors[fmt.Sprintf("events[%d]", i)] = errs
			continue
		}
		s.checkProjectMismatch(cred.ProjectID, e)

		fields, err := event.Flatten(e, now.UTC())
		if err != nil {
			fieldErrors[fmt.Sprintf("events[%d]", i)] = err.Error()
			continue
		}
		batch = append(batch, fields)
		eventIDs = append(eventIDs, e.EventID)
	}
	if len(fieldErrors) > 0 {
		s.countRejection("validation")
		return validationError(http.StatusUnprocessableEntity, fieldErrors)
	}

	if _, err := s.bus.AppendBatch(c.Request().Context(), batch); err != nil {
		s.logger.Error("Failed to queue batch", "count", len(batch), "error", err)
		return busUnavailable()
	}

	if s.metrics != nil {
		for i := range envelopes {
			s.metrics.EventsReceived.WithLabelValues(string(envelopes[i].Type)).Inc()
		}
		s.metrics.EventsQueued.Add(float64(len(batch)))
		s.observeQueueMode()
	}

	return c.JSON(http.StatusAccepted, &BatchQueuedResponse{
		Status:   "queued",
		Count:    len(batch),
		EventIDs: eventIDs,
	})
}

// checkProjectMismatch warn-logs when the envelope names a project other
// than the credential's. The credential's project id is authoritative
// downstream; the event is not rejected.
func (s *Server) checkProjectMismatch(credProject string, e *event.Envelope) {
	if e.ProjectID != "" && e.ProjectID != credProject {
		s.logger.Warn("Event project id differs from credential",
			"event_id", e.EventID,
			"event_project_id", e.ProjectID,
			"credential_project_id", credProject)
	}
}

func (s *Server) observeQueueMode() {
	if s.bus.MemoryMode() {
		s.metrics.QueueMode.Set(1)
	} else {
		s.metrics.QueueMode.Set(0)
	}
}
