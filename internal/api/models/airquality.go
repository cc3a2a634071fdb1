package models

import (
	"github.com/breatheroute/airnav/internal/airquality"
)

// Zone is an air quality zone with its category.
type Zone struct {
	airquality.Zone
	Level airquality.Level `json:"level"`
}

// ZoneOf converts a zone.
func ZoneOf(z airquality.Zone) Zone {
	return Zone{Zone: z, Level: z.Level()}
}

// ZonesResponse lists zones around a point.
type ZonesResponse struct {
	GridVersion uint64    `json:"gridVersion"`
	CreatedAt   Timestamp `json:"createdAt"`
	Degraded    bool      `json:"degraded"`
	Zones       []Zone    `json:"zones"`
}

// NearestZoneResponse is the zone nearest to a point.
type NearestZoneResponse struct {
	GridVersion    uint64  `json:"gridVersion"`
	DistanceMeters float64 `json:"distanceMeters"`
	Inside         bool    `json:"inside"`
	Zone           Zone    `json:"zone"`
}
