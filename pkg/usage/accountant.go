// Package usage meters per-user monthly event counts against tier limits.
// Counters live in Redis keyed by user and calendar month; a 32-day TTL
// lets old months expire naturally.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lynex-ai/lynex/pkg/billing"
)

// counterTTL outlives the longest month so a key never expires mid-period.
const counterTTL = 32 * 24 * time.Hour

// TierSource resolves a user's current tier.
type TierSource interface {
	TierFor(ctx context.Context, userID string) billing.Tier
}

// Stats describes a user's position against their monthly limit.
type Stats struct {
	Used      int64        `json:"events_used"`
	Limit     int64        `json:"events_limit"` // billing.Unlimited when uncapped
	Tier      billing.Tier `json:"tier"`
	Remaining int64        `json:"events_remaining"`
	Period    string       `json:"period"` // YYYY-MM
}

// Accountant enforces monthly event quotas.
type Accountant struct {
	rdb    *redis.Client
	tiers  TierSource
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountant(rdb *redis.Client, tiers TierSource) *Accountant {
	return &Accountant{
		rdb:    rdb,
		tiers:  tiers,
		logger: slog.Default().With("component", "usage"),
		now:    time.Now,
	}
}

// SetTiers wires the tier source after construction. The accountant and
// the billing service reference each other, so one side is set late during
// startup, before any traffic is served.
func (a *Accountant) SetTiers(tiers TierSource) {
	a.tiers = tiers
}

func monthKey(userID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s", userID, now.UTC().Format("2006-01"))
}

// CheckAndIncrement counts n events against the user's monthly quota and
// reports whether they are admitted. The increment is not rolled back when
// the post-increment value crosses the limit; the next request is rejected
// instead. Counter-store failure admits the request (fail open) so metering
// can never take ingest down.
func (a *Accountant) CheckAndIncrement(ctx context.Context, userID string, n int64) (bool, *Stats, error) {
	now := a.now()
	tier := a.tiers.TierFor(ctx, userID)
	limit := billing.LimitsFor(tier).EventsPerMonth

	stats := &Stats{
		Tier:   tier,
		Limit:  limit,
		Period: now.UTC().Format("2006-01"),
	}

	if limit == billing.Unlimited {
		stats.Remaining = billing.Unlimited
		return true, stats, nil
	}

	key := monthKey(userID, now)
	used, err := a.rdb.IncrBy(ctx, key, n).Result()
	if err != nil {
		a.logger.Warn("Usage counter unavailable, admitting request", "user_id", userID, "error", err)
		stats.Remaining = limit
		return true, stats, nil
	}
	if used == n {
		// first write this month establishes the expiry
		if err := a.rdb.Expire(ctx, key, counterTTL).Err(); err != nil {
			a.logger.Warn("Failed to set usage counter TTL", "key", key, "error", err)
		}
	}

	stats.Used = used
	stats.Remaining = max(0, limit-used)
	if used > limit {
		// The stored counter keeps the overshoot so the next request is
		// rejected too, but the reported position never exceeds the cap.
		stats.Used = limit
		return false, stats, nil
	}
	return true, stats, nil
}

// Current reads the user's usage without incrementing.
func (a *Accountant) Current(ctx context.Context, userID string) (*Stats, error) {
	now := a.now()
	tier := a.tiers.TierFor(ctx, userID)
	limit := billing.LimitsFor(tier).EventsPerMonth

	stats := &Stats{
		Tier:   tier,
		Limit:  limit,
		Period: now.UTC().Format("2006-01"),
	}
	if limit == billing.Unlimited {
		stats.Remaining = billing.Unlimited
		return stats, nil
	}

	used, err := a.rdb.Get(ctx, monthKey(userID, now)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading usage counter: %w", err)
	}
	stats.Used = used
	stats.Remaining = max(0, limit-used)
	return stats, nil
}

// ResetMonth clears the user's counter for the current month. Called by the
// billing engine at period transitions.
func (a *Accountant) ResetMonth(ctx context.Context, userID string) error {
	if err := a.rdb.Del(ctx, monthKey(userID, a.now())).Err(); err != nil {
		return fmt.Errorf("resetting usage counter: %w", err)
	}
	return nil
}
