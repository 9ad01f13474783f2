package usage

import (
	"context"

	"github.com/lynex-ai/lynex/pkg/credentials"
)

// Guard is the admission predicate the ingest path consults once per
// request. It stays fail-open: richer policy must never make metering a
// source of ingest outages.
type Guard struct {
	accountant *Accountant
}

func NewGuard(a *Accountant) *Guard {
	return &Guard{accountant: a}
}

// Allow charges n events to the credential owner's quota and reports
// admission plus the usage stats for the response body.
func (g *Guard) Allow(ctx context.Context, cred *credentials.Credential, n int64) (bool, *Stats) {
	allowed, stats, _ := g.accountant.CheckAndIncrement(ctx, cred.UserID, n)
	return allowed, stats
}
