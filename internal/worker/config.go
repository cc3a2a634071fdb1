// Package worker runs the background refresh jobs: ground station cache,
// per-target air quality grids and avoidance zones, incident expiry and idle
// session cleanup.
package worker

import (
	"sort"
	"time"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/pkg/geo"
)

// Target is a region whose grid is kept warm.
type Target struct {
	// Name identifies the target in logs and job messages.
	Name string

	// Center anchors the target's zone lattice.
	Center geo.Point

	// Priority determines refresh order (lower = higher priority).
	Priority int
}

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Targets are the regions to refresh.
	Targets []Target

	// Concurrency is the number of targets refreshed at once.
	// Default: 3
	Concurrency int

	// Timeout bounds each target's refresh.
	// Default: 30 seconds
	Timeout time.Duration

	// Interval is the period of scheduled runs.
	// Default: 5 minutes
	Interval time.Duration

	// Grid configures every target lattice.
	Grid airquality.GridConfig

	RefreshGround      bool
	RefreshGrids       bool
	RecomputeAvoidance bool
	PurgeIncidents     bool
	ExpireSessions     bool
}

// DefaultRefreshConfig returns the configuration of the standalone worker.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Targets:            DefaultRefreshTargets(),
		Concurrency:        3,
		Timeout:            30 * time.Second,
		Interval:           5 * time.Minute,
		Grid:               airquality.DefaultGridConfig(),
		RefreshGround:      true,
		RefreshGrids:       true,
		RecomputeAvoidance: true,
		PurgeIncidents:     true,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Minute
	}
	return c
}

// DefaultRefreshTargets returns the Randstad city centers and the larger
// commuter hubs around them.
func DefaultRefreshTargets() []Target {
	return []Target{
		{Name: "Amsterdam", Priority: 1, Center: geo.Point{Lat: 52.3676, Lon: 4.9041}},
		{Name: "Rotterdam", Priority: 1, Center: geo.Point{Lat: 51.9244, Lon: 4.4777}},
		{Name: "Den Haag", Priority: 1, Center: geo.Point{Lat: 52.0705, Lon: 4.3007}},
		{Name: "Utrecht", Priority: 1, Center: geo.Point{Lat: 52.0894, Lon: 5.1102}},
		{Name: "Eindhoven", Priority: 2, Center: geo.Point{Lat: 51.4416, Lon: 5.4697}},
		{Name: "Schiphol", Priority: 2, Center: geo.Point{Lat: 52.3105, Lon: 4.7683}},
		{Name: "Leiden", Priority: 3, Center: geo.Point{Lat: 52.1664, Lon: 4.4819}},
		{Name: "Haarlem", Priority: 3, Center: geo.Point{Lat: 52.3874, Lon: 4.6462}},
		{Name: "Delft", Priority: 3, Center: geo.Point{Lat: 52.0116, Lon: 4.3571}},
		{Name: "Amersfoort", Priority: 3, Center: geo.Point{Lat: 52.1530, Lon: 5.3711}},
	}
}

// Ordered returns the targets by priority, keeping the configured order
// within a priority.
func (c RefreshConfig) Ordered() []Target {
	out := append([]Target(nil), c.Targets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Select returns the targets named in names, or all targets when names is
// empty.
func (c RefreshConfig) Select(names []string) []Target {
	ordered := c.Ordered()
	if len(names) == 0 {
		return ordered
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Target
	for _, t := range ordered {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out
}
