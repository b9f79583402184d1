package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/points"
)

type WalletKind string

const (
	// WalletKindAccount is the plan + purchased wallet of individuals and
	// organizations.
	WalletKindAccount WalletKind = "account"
	// WalletKindAllocation is an organization member's allocation.
	WalletKindAllocation WalletKind = "allocation"
)

type Pool string

const (
	PoolPlan       Pool = "plan"
	PoolPurchased  Pool = "purchased"
	PoolAllocation Pool = "allocation"
)

var debitOrder = map[WalletKind][]Pool{
	WalletKindAccount:    {PoolPlan, PoolPurchased},
	WalletKindAllocation: {PoolAllocation},
}

// DebitOrder lists the pools of a wallet kind in the order they are spent.
func DebitOrder(kind WalletKind) []Pool {
	return slices.Clone(debitOrder[kind])
}

// Split is how a debit or credit was spread over pools.
type Split struct {
	Plan       points.Amount `json:"plan"`
	Purchased  points.Amount `json:"purchased"`
	Allocation points.Amount `json:"allocation"`
}

func (s Split) Of(pool Pool) points.Amount {
	switch pool {
	case PoolPlan:
		return s.Plan
	case PoolPurchased:
		return s.Purchased
	case PoolAllocation:
		return s.Allocation
	}
	return 0
}

func (s Split) Total() points.Amount {
	return s.Plan + s.Purchased + s.Allocation
}

func (s *Split) add(pool Pool, amount points.Amount) {
	switch pool {
	case PoolPlan:
		s.Plan += amount
	case PoolPurchased:
		s.Purchased += amount
	case PoolAllocation:
		s.Allocation += amount
	}
}

// Wallet is the resolved, locked spending source of one identity. Exactly one
// of Balance and Allocation is set, matching Kind.
type Wallet struct {
	Kind           WalletKind
	OwnerID        snowflake.ID
	OrganizationID snowflake.ID
	PlanID         string
	PlanGrant      points.Amount
	Balance        *BalanceRecord
	Allocation     *AllocationRecord
}

// Remaining never reports a negative pool, whatever the stored counters say.
func (w *Wallet) Remaining(pool Pool) points.Amount {
	switch pool {
	case PoolPlan:
		if w.Balance == nil {
			return 0
		}
		return (w.PlanGrant - w.Balance.PlanGrantUsed).NonNegative()
	case PoolPurchased:
		if w.Balance == nil {
			return 0
		}
		return (w.Balance.PurchasedBalance - w.Balance.PurchasedUsed).NonNegative()
	case PoolAllocation:
		if w.Allocation == nil {
			return 0
		}
		return (w.Allocation.AllocatedPoints - w.Allocation.UsedPoints).NonNegative()
	}
	return 0
}

func (w *Wallet) TotalRemaining() points.Amount {
	var total points.Amount
	for _, pool := range debitOrder[w.Kind] {
		total += w.Remaining(pool)
	}
	return total
}

// PlanDebit spreads cost over the wallet's pools in debit order. Each pool
// gives what it has left and the last pool takes whatever is still owed.
func (w *Wallet) PlanDebit(cost points.Amount) Split {
	var split Split
	order := debitOrder[w.Kind]
	rest := cost
	for i, pool := range order {
		if rest <= 0 {
			break
		}
		take := points.Min(rest, w.Remaining(pool))
		if i == len(order)-1 {
			take = rest
		}
		split.add(pool, take)
		rest -= take
	}
	return split
}

func (w *Wallet) Period() Period {
	if w.Allocation != nil {
		return Period{Start: w.Allocation.PeriodStart, End: w.Allocation.PeriodEnd}
	}
	if w.Balance != nil {
		return Period{Start: w.Balance.PeriodStart, End: w.Balance.PeriodEnd}
	}
	return Period{}
}

// View is the caller-facing snapshot of the wallet.
func (w *Wallet) View() BalanceView {
	period := w.Period()
	view := BalanceView{
		WalletKind:         w.Kind,
		PlanID:             w.PlanID,
		PlanRemaining:      w.Remaining(PoolPlan),
		PurchasedRemaining: w.Remaining(PoolPurchased),
		TotalRemaining:     w.TotalRemaining(),
		PeriodStart:        period.Start.UTC(),
		PeriodEnd:          period.End.UTC(),
	}
	if w.Kind == WalletKindAllocation {
		allocated := w.Remaining(PoolAllocation)
		view.AllocatedRemaining = &allocated
	}
	return view
}

// BalanceView is the same shape for every wallet kind.
type BalanceView struct {
	WalletKind         WalletKind     `json:"wallet_kind"`
	PlanID             string         `json:"plan_id"`
	PlanRemaining      points.Amount  `json:"plan_remaining"`
	PurchasedRemaining points.Amount  `json:"purchased_remaining"`
	AllocatedRemaining *points.Amount `json:"allocated_remaining,omitempty"`
	TotalRemaining     points.Amount  `json:"total_remaining"`
	PeriodStart        time.Time      `json:"period_start"`
	PeriodEnd          time.Time      `json:"period_end"`
}
