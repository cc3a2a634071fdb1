package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/internal/telemetry"
)

var (
	_ scoring.Observer    = (*telemetry.EngineMetrics)(nil)
	_ navigation.Observer = (*telemetry.EngineMetrics)(nil)
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "airnav-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NotNil(t, provider.Meters())
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_Meters_PrefersSDKProvider(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	provider := &telemetry.Provider{MeterProvider: mp}
	assert.Same(t, mp, provider.Meters())
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func counterTotal(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestEngineMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewEngineMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.GridRefreshed(81, "initial")
	m.GridRefreshed(81, "expired")
	m.ObserveOptimize(ctx, 120*time.Millisecond, 3)
	m.ObserveSuperseded(ctx)
	m.LocationUpdated()
	m.LocationUpdated()
	m.LocationUpdated()
	m.WentOffRoute()
	m.PublishDropped(4)

	got := collect(t, reader)
	assert.Equal(t, int64(2), counterTotal(t, got["airnav.grid.refresh.total"]))
	assert.Equal(t, int64(1), counterTotal(t, got["airnav.optimize.superseded.total"]))
	assert.Equal(t, int64(3), counterTotal(t, got["airnav.navigation.location_updates.total"]))
	assert.Equal(t, int64(1), counterTotal(t, got["airnav.navigation.off_route.total"]))
	assert.Equal(t, int64(4), counterTotal(t, got["airnav.companion.dropped.total"]))

	gauge, ok := got["airnav.grid.zones"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(81), gauge.DataPoints[0].Value)

	hist, ok := got["airnav.optimize.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.12, hist.DataPoints[0].Sum, 1e-9)
}
