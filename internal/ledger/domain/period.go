package domain

import "time"

// Period is a calendar-month window [Start, End) in UTC.
type Period struct {
	Start time.Time
	End   time.Time
}

// CurrentPeriod returns the calendar month containing now.
func CurrentPeriod(now time.Time) Period {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

func (b *BalanceRecord) Expired(now time.Time) bool {
	return !b.PeriodEnd.After(now)
}

func (a *AllocationRecord) Expired(now time.Time) bool {
	return !a.PeriodEnd.After(now)
}

// RollBalance moves an expired balance record into the month containing now.
// Spent top-ups are written off the purchased balance so the unspent part
// carries forward. It returns false when the record is still current.
//
// Lazy rollover in the resolver and the scheduled sweep both go through this
// function.
func RollBalance(b *BalanceRecord, now time.Time) bool {
	if !b.Expired(now) {
		return false
	}
	period := CurrentPeriod(now)
	b.PurchasedBalance = (b.PurchasedBalance - b.PurchasedUsed).NonNegative()
	b.PurchasedUsed = 0
	b.PlanGrantUsed = 0
	b.PeriodStart = period.Start
	b.PeriodEnd = period.End
	b.UpdatedAt = now.UTC()
	return true
}

// RollAllocation resets an expired allocation. The allocation itself does not
// carry over; an administrator sets it again for the new month.
func RollAllocation(a *AllocationRecord, now time.Time) bool {
	if !a.Expired(now) {
		return false
	}
	period := CurrentPeriod(now)
	a.AllocatedPoints = 0
	a.UsedPoints = 0
	a.PeriodStart = period.Start
	a.PeriodEnd = period.End
	a.UpdatedAt = now.UTC()
	return true
}
