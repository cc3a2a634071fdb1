package airquality

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/rtree"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/airnav/pkg/geo"
)

// SatelliteSource supplies a satellite-style estimate for any point.
// *Synthesizer implements it.
type SatelliteSource interface {
	Estimate(point geo.Point, extended bool) Reading
}

// GroundSource supplies ground station readings within radius meters of center.
// *Service implements it.
type GroundSource interface {
	GroundReadings(ctx context.Context, center geo.Point, radius float64) ([]Reading, error)
}

// GridConfig controls the zone lattice and its refresh policy.
type GridConfig struct {
	// ZoneRadius is the radius of every zone in meters (default: 500).
	ZoneRadius float64 `json:"zoneRadius"`

	// Rings is the number of zones on each side of the anchor zone, so the
	// lattice is (2*Rings+1)² zones (default: 4).
	Rings int `json:"rings"`

	// RefreshDistance is how far the anchor may move before the grid is
	// rebuilt, in meters (default: 1000).
	RefreshDistance float64 `json:"refreshDistance"`

	// TTL is how long a snapshot stays fresh (default: 5 minutes).
	TTL time.Duration `json:"ttl"`

	// Extended requests NO2, O3, CO, SO2 and aerosol depth.
	Extended bool `json:"extended"`
}

// DefaultGridConfig returns the default lattice configuration.
func DefaultGridConfig() GridConfig {
	return GridConfig{}.withDefaults()
}

func (c GridConfig) withDefaults() GridConfig {
	if c.ZoneRadius <= 0 {
		c.ZoneRadius = 500
	}
	if c.Rings <= 0 {
		c.Rings = 4
	}
	if c.RefreshDistance <= 0 {
		c.RefreshDistance = 1000
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	return c
}

// coverageFactor is how many radii from its center a zone still answers
// nearest-zone lookups. Lattice centers are two radii apart, so every point
// inside the lattice is within √2 radii of one.
const coverageFactor = 1.5

// Snapshot is an immutable zone set produced by one refresh. Readers may
// hold a snapshot indefinitely; a refresh publishes a new one instead of
// mutating it. A nil *Snapshot behaves as an empty set.
type Snapshot struct {
	Version   uint64
	Anchor    geo.Point
	Config    GridConfig
	CreatedAt time.Time

	// Default is set when no reading was available and the snapshot holds a
	// single wide moderate zone.
	Default bool

	zones     []Zone
	maxRadius float64
	index     rtree.RTreeG[int]
}

// NewSnapshot builds a standalone snapshot over zones for callers that
// maintain their own zone set.
func NewSnapshot(anchor geo.Point, cfg GridConfig, createdAt time.Time, zones []Zone) *Snapshot {
	return newSnapshot(0, anchor, cfg.withDefaults(), createdAt, append([]Zone(nil), zones...))
}

func newSnapshot(version uint64, anchor geo.Point, cfg GridConfig, createdAt time.Time, zones []Zone) *Snapshot {
	s := &Snapshot{
		Version:   version,
		Anchor:    anchor,
		Config:    cfg,
		CreatedAt: createdAt,
		zones:     zones,
	}
	for i, z := range zones {
		minB, maxB := geo.Bound(z.Center, z.Radius)
		s.index.Insert(minB, maxB, i)
		s.maxRadius = math.Max(s.maxRadius, z.Radius)
	}
	return s
}

// Zones returns a copy of the zone set.
func (s *Snapshot) Zones() []Zone {
	if s == nil {
		return nil
	}
	out := make([]Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

// Len returns the number of zones.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.zones)
}

// NearestZone returns the zone whose center is closest to p among the
// zones covering it. It reports false when p lies outside the lattice.
func (s *Snapshot) NearestZone(p geo.Point) (Zone, bool) {
	if s.Len() == 0 {
		return Zone{}, false
	}

	best, bestDist := -1, math.Inf(1)
	minB, maxB := geo.Bound(p, s.maxRadius*coverageFactor)
	s.index.Search(minB, maxB, func(_, _ [2]float64, i int) bool {
		z := s.zones[i]
		d := geo.Distance(p, z.Center)
		if d <= z.Radius*coverageFactor && d < bestDist {
			best, bestDist = i, d
		}
		return true
	})
	if best < 0 {
		return Zone{}, false
	}
	return s.zones[best], true
}

// ZonesWithin returns every zone whose center lies within meters of p.
func (s *Snapshot) ZonesWithin(p geo.Point, meters float64) []Zone {
	if s.Len() == 0 {
		return nil
	}
	var out []Zone
	minB, maxB := geo.Bound(p, meters)
	s.index.Search(minB, maxB, func(_, _ [2]float64, i int) bool {
		if geo.Distance(p, s.zones[i].Center) <= meters {
			out = append(out, s.zones[i])
		}
		return true
	})
	return out
}

// ZonesCovering returns every zone whose center lies within factor times
// its own radius of p.
func (s *Snapshot) ZonesCovering(p geo.Point, factor float64) []Zone {
	if s.Len() == 0 || factor <= 0 {
		return nil
	}
	var out []Zone
	minB, maxB := geo.Bound(p, s.maxRadius*factor)
	s.index.Search(minB, maxB, func(_, _ [2]float64, i int) bool {
		z := s.zones[i]
		if geo.Distance(p, z.Center) <= z.Radius*factor {
			out = append(out, z)
		}
		return true
	})
	return out
}

// Config holds the dependencies of a Grid.
type Config struct {
	// Satellite provides the estimate for each zone center. Optional.
	Satellite SatelliteSource

	// Ground provides station readings near each zone center. Optional.
	Ground GroundSource

	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// OnRefresh is called after every rebuild with the zone count and the
	// reason for the rebuild. Optional.
	OnRefresh func(zones int, reason string)
}

// Grid owns the current zone snapshot. Refreshes are serialized; reads are
// lock-free.
type Grid struct {
	satellite SatelliteSource
	ground    GroundSource
	logger    zerolog.Logger
	now       func() time.Time
	onRefresh func(int, string)
	tracer    trace.Tracer

	mu      sync.Mutex
	version uint64
	current atomic.Pointer[Snapshot]
}

// NewGrid creates an empty grid.
func NewGrid(cfg Config) *Grid {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Grid{
		satellite: cfg.Satellite,
		ground:    cfg.Ground,
		logger:    cfg.Logger,
		now:       cfg.Now,
		onRefresh: cfg.OnRefresh,
		tracer:    otel.Tracer("github.com/breatheroute/airnav/internal/airquality"),
	}
}

// Snapshot returns the current snapshot, or nil before the first refresh.
func (g *Grid) Snapshot() *Snapshot {
	return g.current.Load()
}

// NearestZone looks up the nearest zone in the current snapshot.
func (g *Grid) NearestZone(p geo.Point) (Zone, bool) {
	return g.Snapshot().NearestZone(p)
}

// Follower keeps a grid anchored around a moving point. It satisfies the
// navigation engine's zone lookup, so each session can own one.
type Follower struct {
	grid *Grid
	cfg  GridConfig
}

// NewFollower wraps grid with the lattice configuration to refresh with.
func NewFollower(grid *Grid, cfg GridConfig) *Follower {
	return &Follower{grid: grid, cfg: cfg.withDefaults()}
}

// Grid returns the wrapped grid.
func (f *Follower) Grid() *Grid {
	return f.grid
}

// Follow refreshes the grid around p when the anchor moved too far or the
// snapshot expired.
func (f *Follower) Follow(ctx context.Context, p geo.Point) {
	f.grid.Refresh(ctx, p, f.cfg)
}

// NearestZone looks up the nearest zone in the current snapshot.
func (f *Follower) NearestZone(p geo.Point) (Zone, bool) {
	return f.grid.NearestZone(p)
}

// Refresh rebuilds the zone set around center when the refresh policy
// requires it and returns the snapshot in effect afterwards.
func (g *Grid) Refresh(ctx context.Context, center geo.Point, cfg GridConfig) *Snapshot {
	cfg = cfg.withDefaults()

	g.mu.Lock()
	defer g.mu.Unlock()

	reason := g.refreshReason(center, cfg)
	if reason == "" {
		return g.current.Load()
	}
	return g.rebuild(ctx, center, cfg, reason)
}

// ForceRefresh rebuilds the zone set around center regardless of policy.
func (g *Grid) ForceRefresh(ctx context.Context, center geo.Point, cfg GridConfig) *Snapshot {
	cfg = cfg.withDefaults()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebuild(ctx, center, cfg, "forced")
}

// NeedsRefresh reports whether Refresh(center, cfg) would rebuild.
func (g *Grid) NeedsRefresh(center geo.Point, cfg GridConfig) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshReason(center, cfg.withDefaults()) != ""
}

func (g *Grid) refreshReason(center geo.Point, cfg GridConfig) string {
	cur := g.current.Load()
	switch {
	case cur == nil:
		return "initial"
	case cur.Config != cfg:
		return "config"
	case geo.Distance(cur.Anchor, center) > cfg.RefreshDistance:
		return "moved"
	case !g.now().Before(cur.CreatedAt.Add(cfg.TTL)):
		return "expired"
	default:
		return ""
	}
}

func (g *Grid) rebuild(ctx context.Context, center geo.Point, cfg GridConfig, reason string) *Snapshot {
	ctx, span := g.tracer.Start(ctx, "airquality.Grid.Refresh")
	defer span.End()

	zones := g.buildZones(ctx, center, cfg)

	g.version++
	snap := newSnapshot(g.version, center, cfg, g.now(), zones)
	if len(zones) == 0 {
		snap = newSnapshot(g.version, center, cfg, g.now(), []Zone{g.defaultZone(center, cfg)})
		snap.Default = true
	}
	g.current.Store(snap)

	span.SetAttributes(
		attribute.Int("zones", snap.Len()),
		attribute.String("reason", reason),
		attribute.Bool("default", snap.Default),
	)
	g.logger.Info().
		Uint64("version", snap.Version).
		Int("zones", snap.Len()).
		Float64("lat", center.Lat).
		Float64("lon", center.Lon).
		Str("reason", reason).
		Bool("default", snap.Default).
		Msg("air quality grid refreshed")

	if g.onRefresh != nil {
		g.onRefresh(snap.Len(), reason)
	}
	return snap
}

func (g *Grid) buildZones(ctx context.Context, anchor geo.Point, cfg GridConfig) []Zone {
	spacing := 2 * cfg.ZoneRadius
	groundOK := g.ground != nil
	now := g.now()

	zones := make([]Zone, 0, (2*cfg.Rings+1)*(2*cfg.Rings+1))
	for row := -cfg.Rings; row <= cfg.Rings; row++ {
		rowAnchor := offsetSigned(anchor, 0, float64(row)*spacing)
		for col := -cfg.Rings; col <= cfg.Rings; col++ {
			center := offsetSigned(rowAnchor, 90, float64(col)*spacing)

			var ground []Reading
			if groundOK {
				readings, err := g.ground.GroundReadings(ctx, center, spacing)
				if err != nil {
					g.logger.Warn().Err(err).Msg("ground readings unavailable, using satellite estimates only")
					groundOK = false
				}
				ground = readings
			}

			reading, confidence, ok := g.fuse(center, cfg, ground)
			if !ok {
				continue
			}
			reading.Point = center
			if reading.CapturedAt.IsZero() {
				reading.CapturedAt = now
			}

			zones = append(zones, Zone{
				ID:         fmt.Sprintf("r%+dc%+d", row, col),
				Center:     center,
				Radius:     cfg.ZoneRadius,
				Reading:    reading,
				Confidence: confidence,
			})
		}
	}
	return zones
}

func (g *Grid) fuse(center geo.Point, cfg GridConfig, ground []Reading) (Reading, float64, bool) {
	if g.satellite != nil {
		r, c := Fuse(g.satellite.Estimate(center, cfg.Extended), ground)
		return r, c, true
	}
	if len(ground) == 0 {
		return Reading{}, 0, false
	}

	// Ground only: the mean of the stations stands in for the estimate.
	mean := Reading{Source: "ground"}
	for _, r := range ground {
		mean.AQI += r.AQI
		mean.PM25 += r.PM25
		mean.PM10 += r.PM10
		if r.CapturedAt.After(mean.CapturedAt) {
			mean.CapturedAt = r.CapturedAt
		}
	}
	n := float64(len(ground))
	mean.AQI = ClampAQI(mean.AQI / n)
	mean.PM25 /= n
	mean.PM10 /= n
	return mean, FusedConfidence, true
}

// defaultZone covers the whole lattice with a moderate reading.
func (g *Grid) defaultZone(center geo.Point, cfg GridConfig) Zone {
	return Zone{
		ID:     "default",
		Center: center,
		Radius: cfg.ZoneRadius * float64(2*cfg.Rings+1),
		Reading: Reading{
			Point:      center,
			AQI:        DefaultAQI,
			CapturedAt: g.now(),
			Source:     "default",
		},
	}
}

func offsetSigned(p geo.Point, bearing, meters float64) geo.Point {
	if meters == 0 {
		return p
	}
	if meters < 0 {
		return geo.Offset(p, bearing+180, -meters)
	}
	return geo.Offset(p, bearing, meters)
}
