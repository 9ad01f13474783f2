package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/lynex-ai/lynex/pkg/alerts"
)

// listRulesHandler handles GET /api/v1/alert-rules for the credential's
// project.
func (s *Server) listRulesHandler(c *echo.Context) error {
	cred := credentialFrom(c)

	rules, err := s.rules.ListByProject(c.Request().Context(), cred.ProjectID)
	if err != nil {
		s.logger.Error("Rule list failed", "project_id", cred.ProjectID, "error", err)
		return newAPIError(http.StatusInternalServerError, "rules_unavailable",
			"Alert rules could not be loaded")
	}
	if rules == nil {
		rules = []alerts.Rule{}
	}
	return c.JSON(http.StatusOK, rules)
}

// createRuleHandler handles POST /api/v1/alert-rules.
func (s *Server) createRuleHandler(c *echo.Context) error {
	cred := credentialFrom(c)

	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_json", err.Error())
	}
	if err := validateRuleRequest(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_rule", err.Error())
	}

	rule := ruleFromRequest(&req, cred.ProjectID)
	created, err := s.rules.Create(c.Request().Context(), rule)
	if err != nil {
		s.logger.Error("Rule create failed", "project_id", cred.ProjectID, "error", err)
		return newAPIError(http.StatusInternalServerError, "rule_create_failed",
			"The rule could not be created")
	}
	return c.JSON(http.StatusCreated, created)
}

// getRuleHandler handles GET /api/v1/alert-rules/:id.
func (s *Server) getRuleHandler(c *echo.Context) error {
	rule, err := s.loadOwnedRule(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rule)
}

// updateRuleHandler handles PUT /api/v1/alert-rules/:id.
func (s *Server) updateRuleHandler(c *echo.Context) error {
	rule, err := s.loadOwnedRule(c)
	if err != nil {
		return err
	}

	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_json", err.Error())
	}
	if err := validateRuleRequest(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_rule", err.Error())
	}

	updated := ruleFromRequest(&req, rule.ProjectID)
	updated.ID = rule.ID
	updated.CreatedAt = rule.CreatedAt

	saved, err := s.rules.Update(c.Request().Context(), updated)
	if err != nil {
		if errors.Is(err, alerts.ErrRuleNotFound) {
			return newAPIError(http.StatusNotFound, "rule_not_found", "No such alert rule")
		}
		s.logger.Error("Rule update failed", "rule_id", rule.ID, "error", err)
		return newAPIError(http.StatusInternalServerError, "rule_update_failed",
			"The rule could not be updated")
	}
	return c.JSON(http.StatusOK, saved)
}

// deleteRuleHandler handles DELETE /api/v1/alert-rules/:id.
func (s *Server) deleteRuleHandler(c *echo.Context) error {
	rule, err := s.loadOwnedRule(c)
	if err != nil {
		return err
	}

	if err := s.rules.Delete(c.Request().Context(), rule.ID); err != nil {
		if errors.Is(err, alerts.ErrRuleNotFound) {
			return newAPIError(http.StatusNotFound, "rule_not_found", "No such alert rule")
		}
		s.logger.Error("Rule delete failed", "rule_id", rule.ID, "error", err)
		return newAPIError(http.StatusInternalServerError, "rule_delete_failed",
			"The rule could not be deleted")
	}
	return c.NoContent(http.StatusNoContent)
}

// loadOwnedRule fetches the :id rule and enforces project ownership.
// Foreign rules surface as 404 so rule ids do not leak across projects.
func (s *Server) loadOwnedRule(c *echo.Context) (*alerts.Rule, error) {
	cred := credentialFrom(c)

	rule, err := s.rules.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, alerts.ErrRuleNotFound) {
			return nil, newAPIError(http.StatusNotFound, "rule_not_found", "No such alert rule")
		}
		s.logger.Error("Rule load failed", "rule_id", c.Param("id"), "error", err)
		return nil, newAPIError(http.StatusInternalServerError, "rules_unavailable",
			"Alert rules could not be loaded")
	}
	if rule.ProjectID != cred.ProjectID {
		return nil, newAPIError(http.StatusNotFound, "rule_not_found", "No such alert rule")
	}
	return rule, nil
}

func validateRuleRequest(req *RuleRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if !alerts.ValidCondition(req.Condition) {
		return errors.New("condition must be one of error_count, latency_threshold, cost_threshold, event_match")
	}
	if req.Severity != "" && !alerts.ValidSeverity(req.Severity) {
		return errors.New("severity must be one of info, warning, critical")
	}
	if req.Condition == alerts.ConditionEventMatch && req.FieldPath == "" {
		return errors.New("field_path is required for event_match rules")
	}
	return nil
}

func ruleFromRequest(req *RuleRequest, projectID string) *alerts.Rule {
	severity := req.Severity
	if severity == "" {
		severity = alerts.SeverityWarning
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &alerts.Rule{
		ProjectID:  projectID,
		Name:       req.Name,
		Condition:  req.Condition,
		Threshold:  req.Threshold,
		Severity:   severity,
		EventType:  req.EventType,
		FieldPath:  req.FieldPath,
		FieldValue: req.FieldValue,
		Channels:   req.Channels,
		Enabled:    enabled,
	}
}
