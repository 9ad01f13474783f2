// Package billing manages subscriptions, tier policy, and the external
// payment-provider webhook surface.
package billing

// Tier is a subscription level.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// Unlimited marks a limit with no cap. Distinct from any finite count.
const Unlimited = -1

// Limits is the per-tier policy table row.
type Limits struct {
	EventsPerMonth int64
	RetentionDays  int
	MaxProjects    int
	MaxMembers     int
	MaxAlertRules  int
}

var tierLimits = map[Tier]Limits{
	TierFree: {
		EventsPerMonth: 50_000,
		RetentionDays:  7,
		MaxProjects:    1,
		MaxMembers:     1,
		MaxAlertRules:  3,
	},
	TierPro: {
		EventsPerMonth: 500_000,
		RetentionDays:  30,
		MaxProjects:    5,
		MaxMembers:     5,
		MaxAlertRules:  20,
	},
	TierBusiness: {
		EventsPerMonth: 5_000_000,
		RetentionDays:  90,
		MaxProjects:    Unlimited,
		MaxMembers:     Unlimited,
		MaxAlertRules:  Unlimited,
	},
}

// LimitsFor returns the policy row for tier. Unknown tiers get free limits.
func LimitsFor(tier Tier) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// planTiers maps external plan ids to tiers. Unknown plan ids map to free.
var planTiers = map[string]Tier{
	"plan_pro_monthly":      TierPro,
	"plan_pro_yearly":       TierPro,
	"plan_business_monthly": TierBusiness,
	"plan_business_yearly":  TierBusiness,
}

// TierForPlan maps an external plan id to a tier.
func TierForPlan(planID string) Tier {
	if t, ok := planTiers[planID]; ok {
		return t
	}
	return TierFree
}
