package service

import (
	"slices"
	"strings"

	"github.com/smallbiznis/pointledger/internal/config"
	plandomain "github.com/smallbiznis/pointledger/internal/plan/domain"
	"github.com/smallbiznis/pointledger/internal/points"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Holder *config.CatalogHolder
}

// Service reads the catalog holder on every call so hot reloads apply
// without restarts.
type Service struct {
	holder *config.CatalogHolder
}

func NewService(p Params) plandomain.Catalog {
	return &Service{holder: p.Holder}
}

func (s *Service) PlanGrant(planID string) points.Amount {
	plan, ok := s.findPlan(planID)
	if !ok {
		return 0
	}
	return points.FromFloat(plan.MonthlyPoints)
}

// AvailableTiers falls back to every catalog tier when the plan is unknown,
// so wallets left on a retired plan can still spend purchased points.
func (s *Service) AvailableTiers(planID string) []string {
	plan, ok := s.findPlan(planID)
	if !ok {
		return s.catalogTiers()
	}
	return slices.Clone(plan.Tiers)
}

func (s *Service) TierAvailable(planID, tier string) bool {
	tier = strings.TrimSpace(tier)
	plan, ok := s.findPlan(planID)
	if !ok {
		_, known := s.Tier(tier)
		return known
	}
	return slices.Contains(plan.Tiers, tier)
}

func (s *Service) catalogTiers() []string {
	tiers := s.holder.Get().Tiers
	out := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, tier.ID)
	}
	return out
}

func (s *Service) Tier(id string) (points.Tier, bool) {
	id = strings.TrimSpace(id)
	for _, tier := range s.holder.Get().Tiers {
		if tier.ID == id {
			return points.Tier{ID: tier.ID, Max: points.FromFloat(tier.MaxCost)}, true
		}
	}
	return points.Tier{}, false
}

func (s *Service) CostRule() points.CostRule {
	cost := s.holder.Get().Cost
	return points.CostRule{
		Floor:     points.FromFloat(cost.Floor),
		Threshold: cost.Threshold,
	}
}

func (s *Service) Plans() []plandomain.Plan {
	catalog := s.holder.Get()
	plans := make([]plandomain.Plan, 0, len(catalog.Plans))
	for _, plan := range catalog.Plans {
		plans = append(plans, plandomain.Plan{
			ID:            plan.ID,
			MonthlyPoints: points.FromFloat(plan.MonthlyPoints),
			Tiers:         slices.Clone(plan.Tiers),
		})
	}
	return plans
}

func (s *Service) findPlan(planID string) (config.PlanConfig, bool) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return config.PlanConfig{}, false
	}
	for _, plan := range s.holder.Get().Plans {
		if plan.ID == planID {
			return plan, true
		}
	}
	return config.PlanConfig{}, false
}
