// Package incident stores live road incidents reported by users or feeds.
// Active incidents feed the avoidance zone calculator and the route scorer.
package incident

import (
	"errors"
	"fmt"
	"time"

	"github.com/breatheroute/airnav/pkg/geo"
)

// Repository errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrInvalidIncident  = errors.New("invalid incident")
)

// Kind is the type of a road incident.
type Kind string

const (
	KindAccident   Kind = "accident"
	KindRoadWork   Kind = "road_work"
	KindTraffic    Kind = "traffic"
	KindHazard     Kind = "hazard"
	KindPolice     Kind = "police"
	KindPedestrian Kind = "pedestrian"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindAccident, KindRoadWork, KindTraffic, KindHazard, KindPolice, KindPedestrian}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Critical reports whether incidents of this kind are flagged as critical
// when close to a route.
func (k Kind) Critical() bool {
	return k == KindAccident || k == KindRoadWork
}

// Incident is a reported road incident at a point.
type Incident struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Point       geo.Point  `json:"point"`
	Description string     `json:"description,omitempty"`
	ReportedAt  time.Time  `json:"reportedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ActiveAt reports whether the incident has not expired at t.
func (i *Incident) ActiveAt(t time.Time) bool {
	return i.ExpiresAt == nil || t.Before(*i.ExpiresAt)
}

// Validate checks kind and coordinates.
func (i *Incident) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIncident, i.Kind)
	}
	if err := i.Point.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIncident, err)
	}
	return nil
}
