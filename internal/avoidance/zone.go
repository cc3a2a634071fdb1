// Package avoidance turns live incidents and poor-air zones into circular
// avoidance zones that penalize route segments passing through them.
package avoidance

import (
	"math"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/pkg/geo"
)

// Category is the origin of an avoidance zone.
type Category string

const (
	CategoryIncident   Category = "incident"
	CategoryAirQuality Category = "air_quality"
	CategoryCombined   Category = "combined"
	CategoryTemporal   Category = "temporal"
)

// Emission thresholds: zones at or below these severities are not emitted.
const (
	IncidentThreshold = 0.3
	AirThreshold      = 0.4
)

// IncidentSeverity is the fixed severity per incident kind.
var IncidentSeverity = map[incident.Kind]float64{
	incident.KindAccident:   1.0,
	incident.KindRoadWork:   0.8,
	incident.KindTraffic:    0.7,
	incident.KindHazard:     0.6,
	incident.KindPolice:     0.4,
	incident.KindPedestrian: 0.3,
}

// IncidentRadius is the fixed zone radius in meters per incident kind.
var IncidentRadius = map[incident.Kind]float64{
	incident.KindAccident:   500,
	incident.KindRoadWork:   400,
	incident.KindTraffic:    300,
	incident.KindHazard:     200,
	incident.KindPolice:     150,
	incident.KindPedestrian: 100,
}

// AirSeverity is the fixed severity per AQI level.
var AirSeverity = map[airquality.Level]float64{
	airquality.LevelGood:      0.0,
	airquality.LevelModerate:  0.2,
	airquality.LevelPoor:      0.5,
	airquality.LevelUnhealthy: 0.7,
	airquality.LevelSevere:    0.9,
	airquality.LevelHazardous: 1.0,
}

// Zone is a circular avoidance zone.
type Zone struct {
	ID       string           `json:"id"`
	Center   geo.Point        `json:"center"`
	Radius   float64          `json:"radius"`   // meters
	Severity float64          `json:"severity"` // 0..1
	Category Category         `json:"category"`
	Kind     incident.Kind    `json:"kind,omitempty"`
	Level    airquality.Level `json:"level,omitempty"`
	Reason   string           `json:"reason"`
}

// Proximity returns 1 − d/r for a point at distance d from the center,
// floored at 0.
func (z Zone) Proximity(d float64) float64 {
	if z.Radius <= 0 {
		return 0
	}
	return math.Max(0, 1-d/z.Radius)
}

// SeverityAt returns the severity felt at p. It decays linearly from the
// zone severity at the center to 0 at the radius.
func (z Zone) SeverityAt(p geo.Point) float64 {
	return z.Severity * z.Proximity(geo.Distance(z.Center, p))
}

// Contains reports whether p lies within the zone.
func (z Zone) Contains(p geo.Point) bool {
	return geo.Distance(z.Center, p) <= z.Radius
}

// PenalizesSafety reports whether the zone counts against route safety.
// Air quality zones are scored through the grid instead.
func (z Zone) PenalizesSafety() bool {
	return z.Category != CategoryAirQuality
}
