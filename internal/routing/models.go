// Package routing fetches candidate routes (polyline, maneuver steps and
// baseline travel time) from an external routing provider.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/breatheroute/airnav/pkg/geo"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Provider is an external routing engine.
type Provider interface {
	// GetDirections returns the main route plus alternatives when available.
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
	// SupportedProfiles returns the profiles this provider can route.
	SupportedProfiles() []RouteProfile
}

// RouteProfile is a routing profile (mode of transport).
type RouteProfile string

const (
	ProfileWalk RouteProfile = "foot-walking"
	ProfileBike RouteProfile = "cycling-regular"
)

// DirectionsRequest asks for routes between two points.
type DirectionsRequest struct {
	Origin          geo.Point
	Destination     geo.Point
	Profile         RouteProfile
	MaxAlternatives int // alternatives beyond the main route (default: 2)
}

// DirectionsResponse holds the candidate routes of one request.
type DirectionsResponse struct {
	Routes    []Route
	Provider  string
	FetchedAt time.Time
}

// Route is one candidate route. Routes are treated as immutable once returned.
type Route struct {
	ID              string       `json:"id"`
	Coordinates     []geo.Point  `json:"coordinates"`
	Polyline        string       `json:"polyline,omitempty"` // encoded, precision 5
	DistanceMeters  float64      `json:"distanceMeters"`
	DurationSeconds float64      `json:"durationSeconds"` // provider baseline
	Summary         string       `json:"summary,omitempty"`
	BoundingBox     *BoundingBox `json:"boundingBox,omitempty"`
	Steps           []Step       `json:"steps,omitempty"`
}

// ExpectedDuration returns the provider's baseline travel time.
func (r *Route) ExpectedDuration() time.Duration {
	return time.Duration(r.DurationSeconds * float64(time.Second))
}

// BoundingBox is a geographic bounding box.
type BoundingBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// Maneuver is the kind of action at a step.
type Maneuver string

const (
	ManeuverDepart          Maneuver = "depart"
	ManeuverStraight        Maneuver = "straight"
	ManeuverLeft            Maneuver = "left"
	ManeuverRight           Maneuver = "right"
	ManeuverSharpLeft       Maneuver = "sharp_left"
	ManeuverSharpRight      Maneuver = "sharp_right"
	ManeuverSlightLeft      Maneuver = "slight_left"
	ManeuverSlightRight     Maneuver = "slight_right"
	ManeuverKeepLeft        Maneuver = "keep_left"
	ManeuverKeepRight       Maneuver = "keep_right"
	ManeuverEnterRoundabout Maneuver = "enter_roundabout"
	ManeuverExitRoundabout  Maneuver = "exit_roundabout"
	ManeuverUTurn           Maneuver = "u_turn"
	ManeuverArrive          Maneuver = "arrive"
)

// orsManeuvers maps OpenRouteService instruction type codes.
var orsManeuvers = map[int]Maneuver{
	0:  ManeuverLeft,
	1:  ManeuverRight,
	2:  ManeuverSharpLeft,
	3:  ManeuverSharpRight,
	4:  ManeuverSlightLeft,
	5:  ManeuverSlightRight,
	6:  ManeuverStraight,
	7:  ManeuverEnterRoundabout,
	8:  ManeuverExitRoundabout,
	9:  ManeuverUTurn,
	10: ManeuverArrive,
	11: ManeuverDepart,
	12: ManeuverKeepLeft,
	13: ManeuverKeepRight,
}

// ManeuverFromORS maps an ORS instruction type code; unknown codes are straight.
func ManeuverFromORS(code int) Maneuver {
	if m, ok := orsManeuvers[code]; ok {
		return m
	}
	return ManeuverStraight
}

// Step is one maneuver along a route.
type Step struct {
	Index           int       `json:"index"`
	Point           geo.Point `json:"point"`
	Maneuver        Maneuver  `json:"maneuver"`
	Instruction     string    `json:"instruction"`
	Name            string    `json:"name,omitempty"`
	DistanceMeters  float64   `json:"distanceMeters"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
