package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/pointledger/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareLabelsSpanWithLedgerWallet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	router := gin.New()
	router.Use(GinMiddleware())
	router.POST("/api/v1/consume", func(c *gin.Context) {
		c.Set(obscontext.GinKeyTier, "opus")
		c.Set(obscontext.GinKeyWalletKind, "allocation")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/consume", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "HTTP POST /api/v1/consume" {
		t.Fatalf("unexpected span name %q", got)
	}
	attrs := spanAttributes(spans[0])
	if got := attrs["ledger.tier"].AsString(); got != "opus" {
		t.Fatalf("expected ledger.tier opus, got %q", got)
	}
	if got := attrs["ledger.wallet_kind"].AsString(); got != "allocation" {
		t.Fatalf("expected ledger.wallet_kind allocation, got %q", got)
	}
	if got := attrs["http.status_code"].AsInt64(); got != http.StatusOK {
		t.Fatalf("expected status 200, got %d", got)
	}
}

func TestGinMiddlewareOmitsLedgerLabelsWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := spanAttributes(spans[0])
	if _, ok := attrs["ledger.tier"]; ok {
		t.Fatalf("unexpected ledger.tier on health span")
	}
	if _, ok := attrs["ledger.wallet_kind"]; ok {
		t.Fatalf("unexpected ledger.wallet_kind on health span")
	}
}
