package tracing

import (
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUnknownKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/v1/consume"),
		attribute.String("account_id", "123"),
		attribute.String("ledger.tier", "opus"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			t.Fatalf("account_id must be filtered")
		}
	}
}

func TestSafeErrorKeepsOuterMessage(t *testing.T) {
	err := fmt.Errorf("persistence_unavailable: %w", errors.New("SELECT * FROM balance_records failed"))
	got := SafeError(err)
	if got == nil || got.Error() != "persistence_unavailable" {
		t.Fatalf("unexpected safe error %v", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
