package ledgermetrics

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/points"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"gorm.io/gorm"
)

// Gauges are snapshot values rebuilt from the database before every push.
type Gauges struct {
	registry *prometheus.Registry

	accounts          *prometheus.GaugeVec
	consumedPoints    *prometheus.GaugeVec
	toppedUpPoints    prometheus.Gauge
	purchasedBalance  prometheus.Gauge
	allocatedPoints   prometheus.Gauge
	memoryBytes       prometheus.Gauge
	lastSnapshotEpoch prometheus.Gauge
}

func NewGauges() *Gauges {
	g := &Gauges{
		registry: prometheus.NewRegistry(),
		accounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pointledger_accounts",
			Help: "Accounts by kind.",
		}, []string{"kind"}),
		consumedPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pointledger_period_consumed_points",
			Help: "Points consumed in the current calendar month by tier.",
		}, []string{"tier"}),
		toppedUpPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pointledger_period_topped_up_points",
			Help: "Points purchased in the current calendar month.",
		}),
		purchasedBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pointledger_purchased_points_outstanding",
			Help: "Unspent purchased points across all balances.",
		}),
		allocatedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pointledger_allocated_points",
			Help: "Points allocated to organization members.",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pointledger_process_memory_bytes",
			Help: "Memory obtained from the OS by the process.",
		}),
		lastSnapshotEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pointledger_snapshot_timestamp_seconds",
			Help: "When the gauges were last rebuilt.",
		}),
	}
	g.registry.MustRegister(
		g.accounts,
		g.consumedPoints,
		g.toppedUpPoints,
		g.purchasedBalance,
		g.allocatedPoints,
		g.memoryBytes,
		g.lastSnapshotEpoch,
	)
	return g
}

// Registry exposes the dedicated registry pushed to the backend.
func (g *Gauges) Registry() *prometheus.Registry {
	return g.registry
}

type kindCount struct {
	Kind  string
	Total int64
}

type tierSum struct {
	Tier  string
	Total int64
}

// Snapshot rebuilds every gauge. Sums are stored in hundredths and reported
// as points.
func (g *Gauges) Snapshot(ctx context.Context, db *gorm.DB, now time.Time) error {
	period := ledgerdomain.CurrentPeriod(now)
	conn := db.WithContext(ctx)

	var kinds []kindCount
	if err := conn.Raw(
		`SELECT kind, COUNT(*) AS total FROM accounts GROUP BY kind`,
	).Scan(&kinds).Error; err != nil {
		return err
	}
	g.accounts.Reset()
	g.accounts.WithLabelValues(string(ledgerdomain.AccountKindUser)).Set(0)
	g.accounts.WithLabelValues(string(ledgerdomain.AccountKindOrganization)).Set(0)
	for _, row := range kinds {
		g.accounts.WithLabelValues(row.Kind).Set(float64(row.Total))
	}

	var tiers []tierSum
	if err := conn.Raw(
		`SELECT tier, CAST(COALESCE(SUM(points), 0) AS BIGINT) AS total
		FROM usage_entries
		WHERE kind = ? AND recorded_at >= ? AND recorded_at < ?
		GROUP BY tier`,
		usagedomain.EntryKindConsume, period.Start, period.End,
	).Scan(&tiers).Error; err != nil {
		return err
	}
	g.consumedPoints.Reset()
	for _, row := range tiers {
		tier := strings.TrimSpace(row.Tier)
		if tier == "" {
			tier = "unknown"
		}
		g.consumedPoints.WithLabelValues(tier).Add(points.Amount(row.Total).Float64())
	}

	var toppedUp int64
	if err := conn.Raw(
		`SELECT CAST(COALESCE(SUM(points), 0) AS BIGINT)
		FROM usage_entries
		WHERE kind = ? AND recorded_at >= ? AND recorded_at < ?`,
		usagedomain.EntryKindTopUp, period.Start, period.End,
	).Scan(&toppedUp).Error; err != nil {
		return err
	}
	g.toppedUpPoints.Set(points.Amount(toppedUp).Float64())

	var outstanding int64
	if err := conn.Raw(
		`SELECT CAST(COALESCE(SUM(purchased_balance - purchased_used), 0) AS BIGINT) FROM balance_records`,
	).Scan(&outstanding).Error; err != nil {
		return err
	}
	g.purchasedBalance.Set(points.Amount(outstanding).Float64())

	var allocated int64
	if err := conn.Raw(
		`SELECT CAST(COALESCE(SUM(allocated_points), 0) AS BIGINT) FROM allocation_records WHERE period_end > ?`,
		now.UTC(),
	).Scan(&allocated).Error; err != nil {
		return err
	}
	g.allocatedPoints.Set(points.Amount(allocated).Float64())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.memoryBytes.Set(float64(mem.Sys))
	g.lastSnapshotEpoch.Set(float64(now.Unix()))
	return nil
}
