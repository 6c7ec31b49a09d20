package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordIngest(ctx, "event")
	m.RecordIngestFailure(ctx, "malformed input")
	m.RecordEmit(ctx, "text", 3)
	m.RecordExpansion(ctx, 10, true)
	m.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond)
}

func TestNewMetricsWithNoop(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	m.RecordIngest(context.Background(), "event")
}

func TestCountersAreCollected(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordIngest(ctx, "event")
	m.RecordIngest(ctx, "event")
	m.RecordExpansion(ctx, 1000, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if s, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["calcore_components_ingested_total"])
	assert.Equal(t, int64(1), sums["calcore_expansions_truncated_total"])
}

func TestProviderServesPrometheus(t *testing.T) {
	p, err := NewProvider("calcore-test", "dev")
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	p.Metrics().RecordEmit(context.Background(), "text", 2)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "calcore_components_emitted")
}
