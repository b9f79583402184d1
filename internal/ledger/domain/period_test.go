package domain

import (
	"testing"
	"time"

	"github.com/smallbiznis/pointledger/internal/points"
)

func TestCurrentPeriod(t *testing.T) {
	cases := []struct {
		now   time.Time
		start time.Time
		end   time.Time
	}{
		{
			now:   time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC),
			start: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			now:   time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			start: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			now:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.FixedZone("UTC+7", 7*3600)),
			start: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		got := CurrentPeriod(tc.now)
		if !got.Start.Equal(tc.start) || !got.End.Equal(tc.end) {
			t.Fatalf("CurrentPeriod(%s) = [%s, %s), want [%s, %s)", tc.now, got.Start, got.End, tc.start, tc.end)
		}
	}
}

func TestRollBalanceCarriesUnspentTopUps(t *testing.T) {
	feb := CurrentPeriod(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	record := &BalanceRecord{
		PlanGrantUsed:    points.Whole(30),
		PurchasedBalance: points.Whole(10),
		PurchasedUsed:    points.Whole(4),
		PeriodStart:      feb.Start,
		PeriodEnd:        feb.End,
	}

	march := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	if !RollBalance(record, march) {
		t.Fatalf("expected rollover")
	}
	if record.PlanGrantUsed != 0 || record.PurchasedUsed != 0 {
		t.Fatalf("expected counters reset, got plan=%s purchased=%s", record.PlanGrantUsed, record.PurchasedUsed)
	}
	if record.PurchasedBalance != points.Whole(6) {
		t.Fatalf("expected 6 purchased points carried, got %s", record.PurchasedBalance)
	}
	if !record.PeriodStart.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period start %s", record.PeriodStart)
	}

	snapshot := *record
	if RollBalance(record, march) {
		t.Fatalf("second rollover in the same period must be a no-op")
	}
	if *record != snapshot {
		t.Fatalf("record changed on no-op rollover")
	}
}

func TestRollBalanceAtExactBoundary(t *testing.T) {
	feb := CurrentPeriod(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	record := &BalanceRecord{PlanGrantUsed: points.Whole(1), PeriodStart: feb.Start, PeriodEnd: feb.End}

	if RollBalance(record, feb.End.Add(-time.Nanosecond)) {
		t.Fatalf("period is still current one instant before its end")
	}
	if !RollBalance(record, feb.End) {
		t.Fatalf("period must roll at its end")
	}
}

func TestRollAllocationResetsAllocatedPoints(t *testing.T) {
	feb := CurrentPeriod(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	record := &AllocationRecord{
		AllocatedPoints: points.Whole(100),
		UsedPoints:      points.Whole(40),
		PeriodStart:     feb.Start,
		PeriodEnd:       feb.End,
	}
	if !RollAllocation(record, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected rollover")
	}
	if record.AllocatedPoints != 0 || record.UsedPoints != 0 {
		t.Fatalf("expected allocation cleared, got allocated=%s used=%s", record.AllocatedPoints, record.UsedPoints)
	}
}
