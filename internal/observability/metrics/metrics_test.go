package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tier", "opus"),
		attribute.String("account_id", "456"),
		attribute.String("wallet_kind", "allocation"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "tier" && attrs[1].Key != "tier" {
		t.Fatalf("expected tier to be retained")
	}
	if attrs[0].Key != "wallet_kind" && attrs[1].Key != "wallet_kind" {
		t.Fatalf("expected wallet_kind to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordConsume(context.Background(), "sonnet", "account", 100, false)
	m.RecordInsufficientBalance(context.Background(), "sonnet", "account")
	m.RecordAllocationUpdate(context.Background(), "accepted")
	m.RecordTopUp(context.Background(), "account")
	m.RecordTransactionRetry(context.Background(), "consume")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "pointledger"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordConsume(context.Background(), "sonnet", "account", 100, false)
}

func TestRecordConsumeSumsHundredths(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "pointledger"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordConsume(ctx, "sonnet", "account", 100, false)
	m.RecordConsume(ctx, "sonnet", "account", 30, false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var total int64
	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != "pointledger_points_consumed_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("points consumed metric not exported")
	}
	if total != 130 {
		t.Fatalf("expected 130 hundredths, got %d", total)
	}
}
