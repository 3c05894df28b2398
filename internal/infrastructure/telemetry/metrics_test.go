package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

// sumOf returns the total of an int64 sum metric, matching attrs when given.
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	want := attribute.NewSet(attrs...)
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if len(attrs) == 0 || dp.Attributes.Equals(&want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:     false,
		ServiceName: "bordereau-console",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestCounterAndUpDownCounter(t *testing.T) {
	reader, provider := newManualMeter(t)
	meter := provider.Meter("test")
	ctx := context.Background()

	counter, err := telemetry.NewCounter(meter, "requests_total", "Requests", "{requests}")
	require.NoError(t, err)
	counter.Add(ctx, 2, attribute.String("method", "GET"))
	counter.Inc(ctx, attribute.String("method", "GET"))

	gauge, err := telemetry.NewUpDownCounter(meter, "open_things", "Open things", "{things}")
	require.NoError(t, err)
	gauge.Add(ctx, 3)
	gauge.Add(ctx, -1)

	assert.Equal(t, int64(3), sumOf(t, reader, "requests_total", attribute.String("method", "GET")))
	assert.Equal(t, int64(2), sumOf(t, reader, "open_things"))
}

func TestHistogram_RecordDuration(t *testing.T) {
	reader, provider := newManualMeter(t)
	ctx := context.Background()

	h, err := telemetry.NewHistogram(provider.Meter("test"), telemetry.HistogramOpts{
		Name:       "call_seconds",
		Unit:       "s",
		Boundaries: telemetry.RemoteDurationBuckets,
	})
	require.NoError(t, err)
	h.RecordDuration(ctx, 150*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	hist, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.15, hist.DataPoints[0].Sum, 1e-9)
}
