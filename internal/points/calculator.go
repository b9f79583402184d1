package points

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownTier = errors.New("unknown_tier")

// Tier is an AI capability level with a fixed maximum cost per response.
type Tier struct {
	ID  string `json:"id"`
	Max Amount `json:"max_cost"`
}

// CostRule bounds the graduated cost: every response costs at least Floor and
// reaches the tier maximum at Threshold work units.
type CostRule struct {
	Floor     Amount `json:"floor"`
	Threshold int64  `json:"threshold"`
}

// RateCard supplies tier prices. The plan catalog implements it.
type RateCard interface {
	Tier(id string) (Tier, bool)
	CostRule() CostRule
}

type Calculator struct {
	rates RateCard
}

func NewCalculator(rates RateCard) *Calculator {
	return &Calculator{rates: rates}
}

// Cost prices one response of tier. A nil workUnits prices at the tier
// maximum; otherwise cost grows linearly from the floor and saturates at the
// threshold.
func (c *Calculator) Cost(tier string, workUnits *int64) (Amount, error) {
	t, ok := c.rates.Tier(strings.TrimSpace(tier))
	if !ok {
		return 0, ErrUnknownTier
	}
	if workUnits == nil {
		return t.Max, nil
	}

	rule := c.rates.CostRule()
	units := *workUnits
	if units < 0 {
		units = 0
	}

	ratio := decimal.NewFromInt(1)
	if rule.Threshold > 0 && units < rule.Threshold {
		ratio = decimal.NewFromInt(units).Div(decimal.NewFromInt(rule.Threshold))
	}

	floor := rule.Floor.Decimal()
	span := t.Max.Decimal().Sub(floor)
	return FromDecimal(floor.Add(span.Mul(ratio))), nil
}

// MaxCost returns the tier maximum.
func (c *Calculator) MaxCost(tier string) (Amount, error) {
	return c.Cost(tier, nil)
}
