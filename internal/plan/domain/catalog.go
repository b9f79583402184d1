package domain

import (
	"github.com/smallbiznis/pointledger/internal/points"
)

// Plan is a subscription plan as the ledger sees it.
type Plan struct {
	ID            string        `json:"id"`
	MonthlyPoints points.Amount `json:"monthly_points"`
	Tiers         []string      `json:"tiers"`
}

// Catalog is the read-only plan table. Unknown plans grant nothing and
// offer every catalog tier; lookups never fail.
type Catalog interface {
	points.RateCard

	PlanGrant(planID string) points.Amount
	AvailableTiers(planID string) []string
	TierAvailable(planID, tier string) bool
	Plans() []Plan
}
