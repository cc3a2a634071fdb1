package avoidance

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/pkg/geo"
)

// TemporalSource supplies additional exclusion zones for rush hours. No
// temporal zone is produced unless a source is configured.
type TemporalSource interface {
	RushHourZones(at time.Time) []Zone
}

// Config controls one recomputation.
type Config struct {
	// ConsiderTrafficPatterns enables temporal zones during rush windows.
	ConsiderTrafficPatterns bool `json:"considerTrafficPatterns"`

	// Merge collapses zones fully contained in a larger zone into it.
	// Off by default: merged zones change scoring outcomes.
	Merge bool `json:"merge"`
}

// Set is an immutable avoidance zone set produced by one recomputation.
type Set struct {
	Version    uint64
	ComputedAt time.Time
	zones      []Zone
}

// Zones returns a copy of every zone.
func (s *Set) Zones() []Zone {
	if s == nil {
		return nil
	}
	out := make([]Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

// Len returns the number of zones.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.zones)
}

// ByCategory returns the zones of category c.
func (s *Set) ByCategory(c Category) []Zone {
	if s == nil {
		return nil
	}
	var out []Zone
	for _, z := range s.zones {
		if z.Category == c {
			out = append(out, z)
		}
	}
	return out
}

// SafetyZones returns the zones that penalize route safety.
func (s *Set) SafetyZones() []Zone {
	if s == nil {
		return nil
	}
	var out []Zone
	for _, z := range s.zones {
		if z.PenalizesSafety() {
			out = append(out, z)
		}
	}
	return out
}

// CalculatorConfig holds the dependencies of a Calculator.
type CalculatorConfig struct {
	Logger zerolog.Logger

	// Temporal supplies rush hour zones. Optional.
	Temporal TemporalSource

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Location is the time zone of the rush windows (default: time.Local).
	Location *time.Location
}

// Calculator rebuilds the avoidance zone set from scratch on every call and
// keeps the latest result for readers.
type Calculator struct {
	logger   zerolog.Logger
	temporal TemporalSource
	now      func() time.Time
	loc      *time.Location

	mu      sync.Mutex
	version uint64
	current atomic.Pointer[Set]
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Calculator{
		logger:   cfg.Logger,
		temporal: cfg.Temporal,
		now:      cfg.Now,
		loc:      cfg.Location,
	}
}

// Current returns the latest set, or nil before the first recomputation.
func (c *Calculator) Current() *Set {
	return c.current.Load()
}

// Recompute builds a new zone set from incidents and air zones and publishes it.
func (c *Calculator) Recompute(incidents []incident.Incident, airZones []airquality.Zone, cfg Config) *Set {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	zones := make([]Zone, 0, len(incidents)+len(airZones))
	zones = append(zones, FromIncidents(incidents)...)
	zones = append(zones, FromAirZones(airZones)...)

	temporal := 0
	if cfg.ConsiderTrafficPatterns && c.temporal != nil && InRushHour(now.In(c.loc)) {
		for _, z := range c.temporal.RushHourZones(now) {
			z.Category = CategoryTemporal
			zones = append(zones, z)
			temporal++
		}
	}

	if cfg.Merge {
		zones = Merge(zones)
	}

	c.version++
	set := &Set{Version: c.version, ComputedAt: now, zones: zones}
	c.current.Store(set)

	c.logger.Debug().
		Uint64("version", set.Version).
		Int("incident_zones", len(set.ByCategory(CategoryIncident))).
		Int("air_zones", len(set.ByCategory(CategoryAirQuality))).
		Int("temporal_zones", temporal).
		Bool("merged", cfg.Merge).
		Msg("avoidance zones recomputed")

	return set
}

// FromIncidents maps incidents onto zones using the fixed severity and
// radius tables. Unknown kinds and kinds at or below the threshold are skipped.
func FromIncidents(incidents []incident.Incident) []Zone {
	var zones []Zone
	for _, i := range incidents {
		severity, ok := IncidentSeverity[i.Kind]
		if !ok || severity <= IncidentThreshold {
			continue
		}
		zones = append(zones, Zone{
			ID:       "incident:" + i.ID,
			Center:   i.Point,
			Radius:   IncidentRadius[i.Kind],
			Severity: severity,
			Category: CategoryIncident,
			Kind:     i.Kind,
			Reason:   incidentReason(i),
		})
	}
	return zones
}

// FromAirZones maps grid zones onto avoidance zones by AQI level, keeping
// only levels above the threshold.
func FromAirZones(airZones []airquality.Zone) []Zone {
	var zones []Zone
	for _, az := range airZones {
		level := az.Level()
		severity := AirSeverity[level]
		if severity <= AirThreshold {
			continue
		}
		zones = append(zones, Zone{
			ID:       "air:" + az.ID,
			Center:   az.Center,
			Radius:   az.Radius,
			Severity: severity,
			Category: CategoryAirQuality,
			Level:    level,
			Reason:   fmt.Sprintf("%s air quality (AQI %.0f)", level, az.AQI()),
		})
	}
	return zones
}

// InRushHour reports whether t falls in the 07–09 or 17–19 windows.
func InRushHour(t time.Time) bool {
	h := t.Hour()
	return (h >= 7 && h < 9) || (h >= 17 && h < 19)
}

// Merge collapses every zone fully contained in a larger kept zone into it.
// The kept zone takes the maximum severity; absorbing a zone of another
// category makes it combined.
func Merge(zones []Zone) []Zone {
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Radius > sorted[j].Radius })

	var kept []Zone
	for _, z := range sorted {
		absorbed := false
		for k := range kept {
			outer := &kept[k]
			if geo.Distance(outer.Center, z.Center)+z.Radius > outer.Radius {
				continue
			}
			if z.Severity > outer.Severity {
				outer.Severity = z.Severity
			}
			if z.Category != outer.Category {
				outer.Category = CategoryCombined
			}
			outer.Reason = outer.Reason + "; " + z.Reason
			absorbed = true
			break
		}
		if !absorbed {
			kept = append(kept, z)
		}
	}
	return kept
}

func incidentReason(i incident.Incident) string {
	label := strings.ReplaceAll(string(i.Kind), "_", " ")
	if i.Description != "" {
		return label + ": " + i.Description
	}
	return label + " reported"
}
