// Package navigation tracks live progress along a selected route: maneuver
// sequencing, off-route detection, ETA and alerts.
package navigation

import (
	"errors"
	"time"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/pkg/geo"
)

var (
	// ErrEmptyRoute is returned when starting on a route with fewer than two points.
	ErrEmptyRoute = errors.New("route has no geometry")
	// ErrNoActiveRoute is returned by operations that need a route while idle.
	ErrNoActiveRoute = errors.New("no active route")
	// ErrSessionNotFound is returned for unknown navigation sessions.
	ErrSessionNotFound = errors.New("navigation session not found")
)

// Alert is the single alert active at an instant.
type Alert string

const (
	AlertNone                Alert = ""
	AlertArrived             Alert = "arrived"
	AlertApproachingManeuver Alert = "approaching_maneuver"
	AlertPoorAirQuality      Alert = "poor_air_quality"
	AlertOffRoute            Alert = "off_route"
)

// Step is one maneuver of the active route.
type Step struct {
	Index       int              `json:"index"`
	Point       geo.Point        `json:"point"`
	Maneuver    routing.Maneuver `json:"maneuver"`
	Instruction string           `json:"instruction"`
}

// State is an immutable snapshot of the engine, published as a whole after
// every update.
type State struct {
	SessionID  string `json:"sessionId,omitempty"`
	Sequence   uint64 `json:"sequence"`
	Navigating bool   `json:"navigating"`

	Route       *scoring.ScoredRoute `json:"route,omitempty"`
	StepIndex   int                  `json:"stepIndex"`
	CurrentStep *Step                `json:"currentStep,omitempty"`
	NextStep    *Step                `json:"nextStep,omitempty"`
	Zone        *airquality.Zone     `json:"zone,omitempty"`

	Location          *geo.Point    `json:"location,omitempty"`
	Progress          float64       `json:"progress"`
	DistanceTraveled  float64       `json:"distanceTraveled"`
	DistanceRemaining float64       `json:"distanceRemaining"`
	DistanceFromRoute float64       `json:"distanceFromRoute"`
	Speed             float64       `json:"speed"` // m/s, rolling average
	ETA               time.Duration `json:"eta"`

	OffRoute bool  `json:"offRoute"`
	Arrived  bool  `json:"arrived"`
	Alert    Alert `json:"alert,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// stepsFor derives navigation steps from the route's maneuver list, or a
// depart/arrive pair when the provider returned none.
func stepsFor(r routing.Route) []Step {
	if len(r.Steps) == 0 {
		return []Step{
			{Index: 0, Point: r.Coordinates[0], Maneuver: routing.ManeuverDepart, Instruction: "Head to destination"},
			{Index: 1, Point: r.Coordinates[len(r.Coordinates)-1], Maneuver: routing.ManeuverArrive, Instruction: "Arrive at destination"},
		}
	}
	steps := make([]Step, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = Step{Index: i, Point: s.Point, Maneuver: s.Maneuver, Instruction: s.Instruction}
	}
	return steps
}
