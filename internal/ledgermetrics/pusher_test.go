package ledgermetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRemoteWritePusherSendsSnappyWriteRequest(t *testing.T) {
	var (
		got     prompb.WriteRequest
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		decoded, err := snappy.Decode(nil, body)
		if err != nil || got.Unmarshal(decoded) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pointledger_accounts"}, []string{"kind"})
	registry.MustRegister(gauge)
	gauge.WithLabelValues("user").Set(3)

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, pusher.Push(context.Background(), registry))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, got.Timeseries, 1)
	series := got.Timeseries[0]
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "pointledger_accounts"},
		{Name: "kind", Value: "user"},
	}, series.Labels)
	require.Len(t, series.Samples, 1)
	assert.Equal(t, 3.0, series.Samples[0].Value)
	assert.Equal(t, int64(1700000000000), series.Samples[0].Timestamp)
}

func TestRemoteWritePusherReportsRejectedWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "pointledger_test_total"})
	registry.MustRegister(counter)
	counter.Inc()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestBuildRemoteWriteSeriesSkipsHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pointledger_g"})
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "pointledger_h"})
	registry.MustRegister(gauge, hist)
	gauge.Set(1.5)
	hist.Observe(2)

	families, err := registry.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 10)
	require.Len(t, series, 1)
	assert.Equal(t, "pointledger_g", series[0].Labels[0].Value)
	assert.Equal(t, 1.5, series[0].Samples[0].Value)
}

func TestNewPusherFromConfig(t *testing.T) {
	cases := []struct {
		name    string
		metrics config.MetricsPushConfig
		want    any
	}{
		{name: "disabled", metrics: config.MetricsPushConfig{Exporter: exporterPrometheusRemoteWrite, Endpoint: "http://x"}},
		{name: "missing endpoint", metrics: config.MetricsPushConfig{Enabled: true, Exporter: exporterPrometheusRemoteWrite}},
		{name: "unknown exporter", metrics: config.MetricsPushConfig{Enabled: true, Exporter: "statsd", Endpoint: "http://x"}},
		{name: "bad url", metrics: config.MetricsPushConfig{Enabled: true, Exporter: exporterPrometheusRemoteWrite, Endpoint: "not a url"}},
		{name: "remote write", metrics: config.MetricsPushConfig{Enabled: true, Exporter: exporterPrometheusRemoteWrite, Endpoint: "http://x/api/v1/write"}, want: &RemoteWritePusher{}},
		{name: "pushgateway", metrics: config.MetricsPushConfig{Enabled: true, Exporter: exporterPrometheusPushgateway, Endpoint: "http://x"}, want: &PushgatewayPusher{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Config{AppName: "pointledger", Metrics: tc.metrics}
			pusher := NewPusher(cfg, zap.NewNop())
			if tc.want == nil {
				assert.Nil(t, pusher)
				return
			}
			assert.IsType(t, tc.want, pusher)
		})
	}
}

func TestPushgatewayPusherRequiresJob(t *testing.T) {
	err := NewPushgatewayPusher("http://x", " ", nil).Push(context.Background(), prometheus.NewRegistry())
	require.Error(t, err)
}
