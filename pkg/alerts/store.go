package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRuleNotFound is returned when a rule id has no row.
var ErrRuleNotFound = errors.New("alert rule not found")

// Store persists alert rules in Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, project_id, name, condition, threshold, severity,
	event_type, field_path, field_value, channels, enabled, created_at, updated_at`

func scanRule(scanner interface{ Scan(...any) error }) (*Rule, error) {
	var (
		r        Rule
		channels []byte
	)
	err := scanner.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Condition, &r.Threshold, &r.Severity,
		&r.EventType, &r.FieldPath, &r.FieldValue, &channels, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(channels, &r.Channels); err != nil {
		return nil, fmt.Errorf("decoding rule channels: %w", err)
	}
	return &r, nil
}

// ListEnabled returns every enabled rule across all projects. Used by the
// processor's rule manager to build its snapshot.
func (s *Store) ListEnabled(ctx context.Context) ([]Rule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled ORDER BY created_at`)
}

// ListByProject returns all rules for one project, enabled or not.
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]Rule, error) {
	return s.list(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE project_id = $1 ORDER BY created_at`, projectID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alert rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// Get returns one rule by id.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading alert rule %s: %w", id, err)
	}
	return r, nil
}

// Create inserts a new rule, assigning it a fresh id.
func (s *Store) Create(ctx context.Context, r *Rule) (*Rule, error) {
	r.ID = uuid.NewString()
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Channels == nil {
		r.Channels = []string{}
	}

	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return nil, fmt.Errorf("encoding rule channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alert_rules (id, project_id, name, condition, threshold, severity,
		   event_type, field_path, field_value, channels, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.ProjectID, r.Name, r.Condition, r.Threshold, r.Severity,
		r.EventType, r.FieldPath, r.FieldValue, channels, r.Enabled, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating alert rule: %w", err)
	}
	return r, nil
}

// Update rewrites a rule's mutable fields.
func (s *Store) Update(ctx context.Context, r *Rule) (*Rule, error) {
	r.UpdatedAt = time.Now().UTC()
	if r.Channels == nil {
		r.Channels = []string{}
	}

	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return nil, fmt.Errorf("encoding rule channels: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules
		 SET name = $1, condition = $2, threshold = $3, severity = $4, event_type = $5,
		     field_path = $6, field_value = $7, channels = $8, enabled = $9, updated_at = $10
		 WHERE id = $11`,
		r.Name, r.Condition, r.Threshold, r.Severity, r.EventType,
		r.FieldPath, r.FieldValue, channels, r.Enabled, r.UpdatedAt, r.ID)
	if err != nil {
		return nil, fmt.Errorf("updating alert rule %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRuleNotFound
	}
	return r, nil
}

// Delete removes a rule by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting alert rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}
