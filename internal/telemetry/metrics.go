package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breatheroute/airnav/internal/telemetry"

// EngineMetrics records grid, optimizer and navigation events. It implements
// scoring.Observer and navigation.Observer.
type EngineMetrics struct {
	gridRefreshes      metric.Int64Counter
	gridZones          metric.Int64Gauge
	optimizeDuration   metric.Float64Histogram
	optimizeCandidates metric.Int64Histogram
	superseded         metric.Int64Counter
	locationUpdates    metric.Int64Counter
	offRouteEvents     metric.Int64Counter
	publishDropped     metric.Int64Counter
}

// NewEngineMetrics creates the instruments on the given meter provider.
func NewEngineMetrics(mp metric.MeterProvider) (*EngineMetrics, error) {
	meter := mp.Meter(meterName)
	m := &EngineMetrics{}
	var err error

	if m.gridRefreshes, err = meter.Int64Counter(
		"airnav.grid.refresh.total",
		metric.WithDescription("Air quality grid rebuilds"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, err
	}
	if m.gridZones, err = meter.Int64Gauge(
		"airnav.grid.zones",
		metric.WithDescription("Zones in the current air quality grid"),
		metric.WithUnit("{zone}"),
	); err != nil {
		return nil, err
	}
	if m.optimizeDuration, err = meter.Float64Histogram(
		"airnav.optimize.duration",
		metric.WithDescription("Duration of route optimizations in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.optimizeCandidates, err = meter.Int64Histogram(
		"airnav.optimize.candidates",
		metric.WithDescription("Candidate routes scored per optimization"),
		metric.WithUnit("{route}"),
	); err != nil {
		return nil, err
	}
	if m.superseded, err = meter.Int64Counter(
		"airnav.optimize.superseded.total",
		metric.WithDescription("Optimization results discarded for a newer request"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.locationUpdates, err = meter.Int64Counter(
		"airnav.navigation.location_updates.total",
		metric.WithDescription("Location samples folded into navigation sessions"),
		metric.WithUnit("{update}"),
	); err != nil {
		return nil, err
	}
	if m.offRouteEvents, err = meter.Int64Counter(
		"airnav.navigation.off_route.total",
		metric.WithDescription("Transitions into the off-route state"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if m.publishDropped, err = meter.Int64Counter(
		"airnav.companion.dropped.total",
		metric.WithDescription("Navigation snapshots dropped before reaching the companion topic"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// GridRefreshed is an airquality.Config OnRefresh hook.
func (m *EngineMetrics) GridRefreshed(zones int, reason string) {
	ctx := context.TODO()
	m.gridRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.gridZones.Record(ctx, int64(zones))
}

// ObserveOptimize records one completed optimization.
func (m *EngineMetrics) ObserveOptimize(ctx context.Context, d time.Duration, candidates int) {
	m.optimizeDuration.Record(ctx, d.Seconds())
	m.optimizeCandidates.Record(ctx, int64(candidates))
}

// ObserveSuperseded records a discarded optimization result.
func (m *EngineMetrics) ObserveSuperseded(ctx context.Context) {
	m.superseded.Add(ctx, 1)
}

// LocationUpdated records a navigation location sample.
func (m *EngineMetrics) LocationUpdated() {
	m.locationUpdates.Add(context.TODO(), 1)
}

// WentOffRoute records an off-route transition.
func (m *EngineMetrics) WentOffRoute() {
	m.offRouteEvents.Add(context.TODO(), 1)
}

// PublishDropped records companion snapshots that were not delivered.
func (m *EngineMetrics) PublishDropped(n int) {
	m.publishDropped.Add(context.TODO(), int64(n))
}
