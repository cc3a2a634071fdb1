package scoring

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/avoidance"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/weather"
	"github.com/breatheroute/airnav/pkg/geo"
)

const (
	// incidentRadius bounds the incident analysis around a route.
	incidentRadius = 1000.0
	// criticalRadius is the distance within which a critical incident is flagged.
	criticalRadius = 500.0
	// safetyPenalty is the score removed by a full-severity zone at its center.
	safetyPenalty = 50.0
	// airReach is the multiple of a zone's radius over which its AQI counts.
	airReach = 2.0
)

// ScorerConfig holds the dependencies of a Scorer.
type ScorerConfig struct {
	Logger zerolog.Logger

	// SampleInterval densifies route polylines before segment scoring
	// (default: 100m). A negative value scores raw polyline vertices.
	SampleInterval float64

	// Now anchors predictive analysis when a config carries no departure time.
	Now func() time.Time

	// Forecast supplies the hourly air quality outlook used by predictive
	// analysis. Optional; without it, or when the outlook does not cover
	// the trip, the time-of-day profile is used.
	Forecast AirForecaster
}

// AirForecaster returns the hourly air quality outlook around a point.
type AirForecaster interface {
	AirForecast(ctx context.Context, p geo.Point) (*weather.AirForecast, error)
}

// Scorer evaluates candidate routes. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	logger   zerolog.Logger
	interval float64
	now      func() time.Time
	forecast AirForecaster
	tracer   trace.Tracer
}

// NewScorer creates a Scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scorer{
		logger:   cfg.Logger,
		interval: cfg.SampleInterval,
		now:      cfg.Now,
		forecast: cfg.Forecast,
		tracer:   otel.Tracer("github.com/breatheroute/airnav/internal/scoring"),
	}
}

// Score ranks routes by combined score, best first, and returns at most
// cfg.MaxAlternatives of them. Equal scores keep candidate order. An empty
// candidate set yields an empty result. Only an invalid config is an error.
func (s *Scorer) Score(
	ctx context.Context,
	routes []routing.Route,
	origin, destination geo.Point,
	zones *airquality.Snapshot,
	avoid *avoidance.Set,
	cfg OptimizationConfig,
) ([]ScoredRoute, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, span := s.tracer.Start(ctx, "scoring.Scorer.Score")
	defer span.End()

	if len(routes) == 0 {
		return []ScoredRoute{}, nil
	}

	departAt := cfg.DepartAt
	if departAt.IsZero() {
		departAt = s.now()
	}

	ev := evaluator{
		cfg:      cfg,
		zones:    zones,
		safety:   avoid.SafetyZones(),
		all:      avoid.Zones(),
		interval: s.interval,
		departAt: departAt,
		baseline: airquality.TemporalFactor(departAt),
	}
	if cfg.PredictiveAnalysis {
		ev.outlook = s.outlook(ctx, origin, departAt)
	}

	scored := make([]ScoredRoute, len(routes))
	for i := range routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scored[i] = ev.route(routes[i])
	}

	applyTimeScores(scored)
	for i := range scored {
		scored[i].CombinedScore = combine(scored[i], cfg)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CombinedScore > scored[j].CombinedScore
	})
	if len(scored) > cfg.MaxAlternatives {
		scored = scored[:cfg.MaxAlternatives]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}

	span.SetAttributes(
		attribute.Int("scoring.candidates", len(routes)),
		attribute.Int("scoring.returned", len(scored)),
		attribute.Int("scoring.air_zones", zones.Len()),
		attribute.Int("scoring.safety_zones", len(ev.safety)),
		attribute.Bool("scoring.forecast", ev.outlook != nil),
	)
	s.logger.Debug().
		Int("candidates", len(routes)).
		Str("winner", scored[0].Route.ID).
		Float64("combined", scored[0].CombinedScore).
		Float64("origin_lat", origin.Lat).
		Float64("origin_lon", origin.Lon).
		Float64("dest_lat", destination.Lat).
		Float64("dest_lon", destination.Lon).
		Msg("routes scored")

	return scored, nil
}

// outlook fetches the forecast near origin. It returns nil when no
// forecaster is configured, the fetch fails, or the forecast does not cover
// departAt.
func (s *Scorer) outlook(ctx context.Context, origin geo.Point, departAt time.Time) *weather.AirForecast {
	if s.forecast == nil {
		return nil
	}
	f, err := s.forecast.AirForecast(ctx, origin)
	if err != nil {
		s.logger.Warn().Err(err).Msg("air forecast unavailable, using time-of-day profile")
		return nil
	}
	if aqi, ok := f.AQIAt(departAt); !ok || aqi <= 0 {
		return nil
	}
	return f
}

type evaluator struct {
	cfg      OptimizationConfig
	zones    *airquality.Snapshot
	safety   []avoidance.Zone
	all      []avoidance.Zone
	interval float64
	departAt time.Time
	baseline float64
	outlook  *weather.AirForecast
}

func (e *evaluator) route(r routing.Route) ScoredRoute {
	sr := ScoredRoute{
		Route:     r,
		Incidents: analyzeIncidents(r.Coordinates, e.all),
		Exposure:  Exposure{Mode: e.cfg.Mode},
	}

	points := r.Coordinates
	if e.interval > 0 {
		points = geo.Sample(points, e.interval)
	}
	total := geo.Length(points)

	duration := r.DurationSeconds
	if duration <= 0 {
		duration = total / e.cfg.Mode.Speed()
	}
	sr.ExpectedDuration = time.Duration(duration * float64(time.Second))

	if len(points) < 2 {
		sr.SafetyScore = NeutralScore
		sr.AirScore = NeutralScore
		sr.AverageAQI = NeutralAQI
		sr.PeakAQI = NeutralAQI
		sr.Risk = RiskForSafety(sr.SafetyScore)
		return sr
	}

	secPerMeter := 0.0
	if total > 0 {
		secPerMeter = duration / total
	}

	sr.Segments = make([]EvaluatedSegment, 0, len(points)-1)
	var safetySum, airSum, aqiSum, elapsed float64
	for i := 1; i < len(points); i++ {
		seg := e.segment(points[i-1], points[i], secPerMeter, elapsed)
		elapsed += seg.Duration.Seconds()

		safetySum += seg.SafetyScore
		airSum += seg.AirScore
		aqiSum += seg.AQI
		sr.PeakAQI = math.Max(sr.PeakAQI, seg.AQI)
		sr.Exposure.Index += seg.Exposure
		sr.Segments = append(sr.Segments, seg)
	}

	n := float64(len(sr.Segments))
	sr.SafetyScore = safetySum / n
	sr.AirScore = airSum / n
	sr.AverageAQI = aqiSum / n
	sr.Risk = RiskForSafety(sr.SafetyScore)

	if e.cfg.AQIThreshold > 0 && sr.PeakAQI > e.cfg.AQIThreshold {
		sr.Exposure.Index *= 10
		sr.Exposure.ThresholdExceeded = true
	}
	return sr
}

func (e *evaluator) segment(a, b geo.Point, secPerMeter, elapsed float64) EvaluatedSegment {
	length := geo.Distance(a, b)
	seconds := length * secPerMeter
	seg := EvaluatedSegment{
		Start:       a,
		End:         b,
		Length:      length,
		Duration:    time.Duration(seconds * float64(time.Second)),
		SafetyScore: 100,
	}

	for _, z := range e.safety {
		d, _ := geo.ProjectOnSegment(z.Center, a, b)
		if d >= z.Radius {
			continue
		}
		seg.SafetyScore -= z.Severity * z.Proximity(d) * safetyPenalty
		seg.Hazards = append(seg.Hazards, z.Reason)
	}
	seg.SafetyScore = math.Max(0, seg.SafetyScore)

	seg.AQI, seg.AirScore = e.air(a, b, elapsed+seconds/2)
	seg.Combined = weighted(seg.SafetyScore, e.cfg.SafetyWeight, seg.AirScore, e.cfg.AirQualityWeight)
	seg.Exposure = seg.AQI * math.Max(1, seconds) / 60 * e.cfg.Mode.InhalationFactor()
	return seg
}

// air returns the segment's AQI and air score. Zones count when their
// center lies within twice their radius of either endpoint.
func (e *evaluator) air(a, b geo.Point, elapsed float64) (aqi, score float64) {
	if e.zones.Len() == 0 {
		return NeutralAQI, NeutralScore
	}

	factor := 1.0
	if e.cfg.PredictiveAnalysis {
		factor = e.trend(e.departAt.Add(time.Duration(elapsed * float64(time.Second))))
	}

	seen := make(map[string]bool)
	penalty := 0.0
	for _, p := range [2]geo.Point{a, b} {
		for _, z := range e.zones.ZonesCovering(p, airReach) {
			if seen[z.ID] {
				continue
			}
			seen[z.ID] = true
			d := math.Min(geo.Distance(a, z.Center), geo.Distance(b, z.Center))
			prox := math.Max(0, 1-d/(airReach*z.Radius))
			penalty += airquality.ClampAQI(z.AQI()*factor) / 5 * prox
		}
	}

	aqi = NeutralAQI
	if nearest, ok := e.zones.NearestZone(geo.Midpoint(a, b)); ok {
		aqi = airquality.ClampAQI(nearest.AQI() * factor)
	}
	return aqi, math.Max(0, 100-penalty)
}

// trend is the expected AQI at a point in time relative to departure. The
// forecast wins while it covers that time; past its end the time-of-day
// profile applies.
func (e *evaluator) trend(at time.Time) float64 {
	if e.outlook != nil {
		now, _ := e.outlook.AQIAt(e.departAt)
		if then, ok := e.outlook.AQIAt(at); ok {
			return then / now
		}
	}
	if e.baseline > 0 {
		return airquality.TemporalFactor(at) / e.baseline
	}
	return 1
}

// analyzeIncidents buckets incident zones within 1 km of any route
// coordinate by kind and flags critical kinds within 500 m.
func analyzeIncidents(coords []geo.Point, zones []avoidance.Zone) IncidentSummary {
	var sum IncidentSummary
	for _, z := range zones {
		if z.Kind == "" {
			continue
		}
		d := math.Inf(1)
		for _, c := range coords {
			d = math.Min(d, geo.Distance(c, z.Center))
		}
		if d > incidentRadius {
			continue
		}
		if sum.ByKind == nil {
			sum.ByKind = make(map[incident.Kind]int)
		}
		sum.Total++
		sum.ByKind[z.Kind]++
		if z.Kind.Critical() && d <= criticalRadius {
			sum.Critical = append(sum.Critical, z.ID)
		}
	}
	return sum
}

// applyTimeScores scores each route's expected time against the fastest
// candidate: 100 × shortest / expected.
func applyTimeScores(routes []ScoredRoute) {
	shortest := time.Duration(math.MaxInt64)
	for _, r := range routes {
		if r.ExpectedDuration > 0 && r.ExpectedDuration < shortest {
			shortest = r.ExpectedDuration
		}
	}
	for i := range routes {
		if routes[i].ExpectedDuration <= 0 || shortest == time.Duration(math.MaxInt64) {
			routes[i].TimeScore = 100
			continue
		}
		routes[i].TimeScore = 100 * shortest.Seconds() / routes[i].ExpectedDuration.Seconds()
	}
}

func combine(r ScoredRoute, cfg OptimizationConfig) float64 {
	sum := r.TimeScore*cfg.TimeWeight + r.SafetyScore*cfg.SafetyWeight + r.AirScore*cfg.AirQualityWeight
	return clampScore(sum / cfg.weightSum())
}

func weighted(safety, ws, air, wa float64) float64 {
	if ws+wa == 0 {
		return clampScore((safety + air) / 2)
	}
	return clampScore((safety*ws + air*wa) / (ws + wa))
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
