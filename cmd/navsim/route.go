package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/pkg/geo"
)

// routeFlags select the route and the synthesized conditions along it.
type routeFlags struct {
	From     string `default:"52.3676,4.9041" env:"NAVSIM_FROM" help:"Origin as lat,lon."`
	To       string `default:"52.3791,4.9003" env:"NAVSIM_TO" help:"Destination as lat,lon."`
	Polyline string `env:"NAVSIM_POLYLINE" help:"Encoded polyline (precision 5). Overrides --from and --to."`

	Preset     string    `default:"balanced" enum:"fastest,safest,healthiest,balanced" help:"Scoring preset."`
	Mode       string    `default:"walk" enum:"walk,run,bike" help:"Travel mode for exposure."`
	Speed      float64   `default:"1.4" help:"Travel speed in m/s."`
	Depart     time.Time `env:"NAVSIM_DEPART" help:"Departure time (RFC 3339). Defaults to now."`
	Seed       uint64    `default:"1" env:"NAVSIM_SEED" help:"Seed for measurement jitter."`
	ZoneRadius float64   `default:"500" help:"Grid zone radius in meters."`
	Rings      int       `default:"2" help:"Grid rings around the route midpoint."`
}

func parsePoint(s string) (geo.Point, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("point %q: want lat,lon", s)
	}
	var p geo.Point
	var err error
	if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return geo.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	if p.Lon, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
		return geo.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return p, p.Validate()
}

func (f routeFlags) points() ([]geo.Point, error) {
	if f.Polyline != "" {
		pts := geo.Decode(f.Polyline)
		if len(pts) < 2 {
			return nil, fmt.Errorf("polyline decodes to %d points, need at least 2", len(pts))
		}
		return pts, nil
	}
	from, err := parsePoint(f.From)
	if err != nil {
		return nil, err
	}
	to, err := parsePoint(f.To)
	if err != nil {
		return nil, err
	}
	return []geo.Point{from, to}, nil
}

func (f routeFlags) departure() time.Time {
	if f.Depart.IsZero() {
		return time.Now().Truncate(time.Second)
	}
	return f.Depart
}

// scenario is a scored route over a synthesized grid.
type scenario struct {
	route   scoring.ScoredRoute
	grid    *airquality.Grid
	gridCfg airquality.GridConfig
	points  []geo.Point
}

// buildScenario synthesizes the grid around the route and scores it. now
// drives both the synthesizer and the grid so runs are reproducible.
func buildScenario(ctx context.Context, f routeFlags, now func() time.Time, log zerolog.Logger) (*scenario, error) {
	pts, err := f.points()
	if err != nil {
		return nil, err
	}
	if f.Speed <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %v", f.Speed)
	}
	preset, ok := scoring.Preset(f.Preset)
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", f.Preset)
	}
	preset.Mode = scoring.Mode(f.Mode)
	preset.DepartAt = now()

	synth := airquality.NewSynthesizer(airquality.SynthesizerConfig{
		Now:    now,
		Jitter: airquality.NewLCG(f.Seed),
	})
	grid := airquality.NewGrid(airquality.Config{
		Satellite: synth,
		Logger:    log,
		Now:       now,
	})
	cum := geo.CumulativeLengths(pts)
	total := cum[len(cum)-1]
	gridCfg := airquality.GridConfig{ZoneRadius: f.ZoneRadius, Rings: f.Rings}
	snap := grid.ForceRefresh(ctx, pointAlong(pts, cum, total/2), gridCfg)

	route := routing.Route{
		ID:              "navsim",
		Coordinates:     pts,
		Polyline:        geo.Encode(pts),
		DistanceMeters:  total,
		DurationSeconds: total / f.Speed,
		Summary:         "simulated route",
	}
	scorer := scoring.NewScorer(scoring.ScorerConfig{Logger: log, Now: now})
	scored, err := scorer.Score(ctx, []routing.Route{route}, pts[0], pts[len(pts)-1], snap, nil, preset)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("route could not be scored")
	}
	return &scenario{route: scored[0], grid: grid, gridCfg: gridCfg, points: pts}, nil
}

// pointAlong returns the point at distance d along pts, clamped to the ends.
func pointAlong(pts []geo.Point, cum []float64, d float64) geo.Point {
	if d <= 0 {
		return pts[0]
	}
	for i := 1; i < len(pts); i++ {
		if d <= cum[i] {
			seg := cum[i] - cum[i-1]
			if seg == 0 {
				return pts[i]
			}
			return geo.Interpolate(pts[i-1], pts[i], (d-cum[i-1])/seg)
		}
	}
	return pts[len(pts)-1]
}
