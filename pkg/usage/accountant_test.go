package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynex-ai/lynex/pkg/billing"
)

type staticTiers struct {
	tier billing.Tier
}

func (s staticTiers) TierFor(context.Context, string) billing.Tier {
	return s.tier
}

func newTestAccountant(t *testing.T, tier billing.Tier) (*Accountant, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a := NewAccountant(rdb, staticTiers{tier: tier})
	a.now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return a, mr
}

func TestCheckAndIncrementWithinLimit(t *testing.T) {
	a, mr := newTestAccountant(t, billing.TierFree)
	ctx := context.Background()

	allowed, stats, err := a.CheckAndIncrement(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), stats.Used)
	assert.Equal(t, int64(50_000), stats.Limit)
	assert.Equal(t, int64(49_999), stats.Remaining)
	assert.Equal(t, "2024-03", stats.Period)

	// first increment sets the month key TTL
	ttl := mr.TTL("usage:u1:2024-03")
	assert.Equal(t, 32*24*time.Hour, ttl)
}

func TestCheckAndIncrementOverLimit(t *testing.T) {
	a, mr := newTestAccountant(t, billing.TierFree)
	ctx := context.Background()

	mr.Set("usage:u1:2024-03", "49999")

	allowed, stats, err := a.CheckAndIncrement(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(50_000), stats.Used)

	// the reported position is capped at the limit even though the stored
	// counter keeps the rejecting increment
	allowed, stats, err = a.CheckAndIncrement(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(50_000), stats.Used)
	assert.Equal(t, int64(50_000), stats.Limit)
	assert.Zero(t, stats.Remaining)
	stored, err := mr.Get("usage:u1:2024-03")
	require.NoError(t, err)
	assert.Equal(t, "50001", stored)
}

func TestCheckAndIncrementFailsOpen(t *testing.T) {
	a, mr := newTestAccountant(t, billing.TierFree)
	mr.Close()

	allowed, stats, err := a.CheckAndIncrement(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, stats.Used)
}

func TestCheckAndIncrementBusinessTier(t *testing.T) {
	a, _ := newTestAccountant(t, billing.TierBusiness)
	ctx := context.Background()

	allowed, stats, err := a.CheckAndIncrement(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), stats.Used)
	assert.Equal(t, int64(5_000_000), stats.Limit)
}

func TestCurrent(t *testing.T) {
	a, mr := newTestAccountant(t, billing.TierPro)
	ctx := context.Background()

	stats, err := a.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.Used)
	assert.Equal(t, int64(500_000), stats.Limit)

	mr.Set("usage:u1:2024-03", "120")
	stats, err = a.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.Used)
	assert.Equal(t, int64(499_880), stats.Remaining)
}

func TestResetMonth(t *testing.T) {
	a, mr := newTestAccountant(t, billing.TierPro)
	ctx := context.Background()

	mr.Set("usage:u1:2024-03", "42")
	require.NoError(t, a.ResetMonth(ctx, "u1"))

	stats, err := a.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.Used)
}
