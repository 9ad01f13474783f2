package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Subscription is one user's billing state. Exactly one row per user,
// created lazily as free on first touch.
type Subscription struct {
	ID                 int64     `json:"-"`
	UserID             string    `json:"user_id"`
	Tier               Tier      `json:"tier"`
	Status             string    `json:"status"` // active, canceled, past_due
	WhopMembershipID   *string   `json:"whop_membership_id,omitempty"`
	WhopPlanID         *string   `json:"whop_plan_id,omitempty"`
	EventsUsed         int64     `json:"events_used"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CreatedAt          time.Time `json:"-"`
	UpdatedAt          time.Time `json:"-"`
}

// MembershipData is the payload of a membership webhook action.
type MembershipData struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	PlanID      string `json:"plan_id"`
	Valid       bool   `json:"valid"`
	PeriodStart int64  `json:"renewal_period_start"` // unix seconds
	PeriodEnd   int64  `json:"renewal_period_end"`
}

// UsageResetter clears a user's live usage counter at period boundaries.
type UsageResetter interface {
	ResetMonth(ctx context.Context, userID string) error
}

// freePeriod is the rolling period length for free-tier subscriptions.
const freePeriod = 30 * 24 * time.Hour

// Service owns subscription state transitions.
type Service struct {
	db     *sql.DB
	usage  UsageResetter
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a subscription service. usage may be nil when no live
// counter store is attached.
func NewService(db *sql.DB, usage UsageResetter) *Service {
	return &Service{
		db:     db,
		usage:  usage,
		logger: slog.Default().With("component", "billing"),
		now:    time.Now,
	}
}

const subscriptionColumns = `id, user_id, tier, status, whop_membership_id, whop_plan_id,
	events_used, current_period_start, current_period_end, created_at, updated_at`

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.Tier, &s.Status, &s.WhopMembershipID, &s.WhopPlanID,
		&s.EventsUsed, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSubscription returns the user's subscription, creating a free one with
// a 30-day period if none exists. An expired free-tier period is extended in
// place and the usage counter reset; paid-tier expiry waits for the payment
// provider's webhook to reconcile.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return s.createFree(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading subscription for %s: %w", userID, err)
	}

	if sub.Tier == TierFree && s.now().After(sub.CurrentPeriodEnd) {
		return s.renewFree(ctx, sub)
	}
	return sub, nil
}

func (s *Service) createFree(ctx context.Context, userID string) (*Subscription, error) {
	now := s.now()
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (user_id, tier, status, current_period_start, current_period_end)
		 VALUES ($1, 'free', 'active', $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = subscriptions.updated_at
		 RETURNING `+subscriptionColumns, userID, now, now.Add(freePeriod)))
	if err != nil {
		return nil, fmt.Errorf("creating free subscription for %s: %w", userID, err)
	}
	s.logger.Info("Created free subscription", "user_id", userID)
	return sub, nil
}

func (s *Service) renewFree(ctx context.Context, sub *Subscription) (*Subscription, error) {
	now := s.now()
	renewed, err := scanSubscription(s.db.QueryRowContext(ctx,
		`UPDATE subscriptions
		 SET current_period_start = $1, current_period_end = $2, events_used = 0, updated_at = $1
		 WHERE user_id = $3
		 RETURNING `+subscriptionColumns, now, now.Add(freePeriod), sub.UserID))
	if err != nil {
		return nil, fmt.Errorf("renewing free subscription for %s: %w", sub.UserID, err)
	}

	s.resetUsage(ctx, sub.UserID)
	s.logger.Info("Renewed free subscription period", "user_id", sub.UserID)
	return renewed, nil
}

// UpdateFromWebhook reconciles a subscription against a membership payload.
// Status follows the valid flag; a period-start shift of more than 24 hours
// is treated as a period transition and resets the usage counter.
func (s *Service) UpdateFromWebhook(ctx context.Context, data MembershipData) error {
	if data.UserID == "" {
		return fmt.Errorf("membership payload has no user id")
	}

	sub, err := s.GetSubscription(ctx, data.UserID)
	if err != nil {
		return err
	}

	tier := TierForPlan(data.PlanID)
	status := "active"
	if !data.Valid {
		status = "canceled"
	}

	now := s.now()
	periodStart := sub.CurrentPeriodStart
	periodEnd := sub.CurrentPeriodEnd
	if data.PeriodStart > 0 {
		periodStart = time.Unix(data.PeriodStart, 0).UTC()
	}
	if data.PeriodEnd > 0 {
		periodEnd = time.Unix(data.PeriodEnd, 0).UTC()
	}

	periodChanged := absDuration(periodStart.Sub(sub.CurrentPeriodStart)) > 24*time.Hour

	query := `UPDATE subscriptions
		 SET tier = $1, status = $2, whop_membership_id = $3, whop_plan_id = $4,
		     current_period_start = $5, current_period_end = $6, updated_at = $7`
	args := []any{tier, status, data.ID, data.PlanID, periodStart, periodEnd, now}
	if periodChanged {
		query += `, events_used = 0`
	}
	query += ` WHERE user_id = $8`
	args = append(args, data.UserID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating subscription for %s: %w", data.UserID, err)
	}

	if periodChanged {
		s.resetUsage(ctx, data.UserID)
	}

	s.logger.Info("Updated subscription from webhook",
		"user_id", data.UserID,
		"tier", tier,
		"status", status,
		"period_reset", periodChanged)
	return nil
}

// MarkPastDue flags a subscription after a failed payment. Access is kept
// until the membership is invalidated by the provider.
func (s *Service) MarkPastDue(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'past_due', updated_at = $1 WHERE user_id = $2`,
		s.now(), userID); err != nil {
		return fmt.Errorf("marking subscription past_due for %s: %w", userID, err)
	}
	s.logger.Warn("Subscription marked past_due", "user_id", userID)
	return nil
}

// TierFor returns the user's current tier, defaulting to free on any error
// so the caller never blocks ingest on billing state.
func (s *Service) TierFor(ctx context.Context, userID string) Tier {
	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load subscription, assuming free tier", "user_id", userID, "error", err)
		return TierFree
	}
	return sub.Tier
}

func (s *Service) resetUsage(ctx context.Context, userID string) {
	if s.usage == nil {
		return
	}
	if err := s.usage.ResetMonth(ctx, userID); err != nil {
		s.logger.Warn("Failed to reset usage counter", "user_id", userID, "error", err)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
