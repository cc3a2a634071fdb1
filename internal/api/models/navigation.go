package models

import (
	"github.com/breatheroute/airnav/internal/companion"
	"github.com/breatheroute/airnav/pkg/geo"
)

// CreateSessionRequest is the body of POST /v1/navigation/sessions. The
// route is either RouteID from the client's latest optimization or a raw
// Polyline.
type CreateSessionRequest struct {
	ClientID string `json:"clientId"`
	RouteID  string `json:"routeId,omitempty"`
	Polyline string `json:"polyline,omitempty"`
}

// Validate checks that exactly one route source is given.
func (r *CreateSessionRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ClientID == "" {
		errs = append(errs, FieldError{Field: "clientId", Message: "is required", Code: "REQUIRED"})
	}
	switch {
	case r.RouteID == "" && r.Polyline == "":
		errs = append(errs, FieldError{Field: "routeId", Message: "routeId or polyline is required", Code: "REQUIRED"})
	case r.RouteID != "" && r.Polyline != "":
		errs = append(errs, FieldError{Field: "polyline", Message: "must not be combined with routeId", Code: "INVALID"})
	case r.Polyline != "" && len(geo.Decode(r.Polyline)) < 2:
		errs = append(errs, FieldError{Field: "polyline", Message: "must decode to at least two points", Code: "INVALID"})
	}
	return errs
}

// SessionResponse is returned when a session is created.
type SessionResponse struct {
	SessionID      string             `json:"sessionId"`
	Token          string             `json:"token"`
	TokenExpiresAt Timestamp          `json:"tokenExpiresAt"`
	State          companion.Snapshot `json:"state"`
}

// LocationUpdate is the body of POST /v1/navigation/sessions/{id}/locations.
type LocationUpdate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// Speed in m/s. Omitted or negative when the device has no fix.
	Speed *float64 `json:"speed,omitempty"`
}

// Validate checks the coordinates.
func (u *LocationUpdate) Validate() []FieldError {
	return validatePoint("location", &Point{Lat: u.Lat, Lon: u.Lon})
}

// SpeedOrUnknown returns the speed, or -1 when absent.
func (u *LocationUpdate) SpeedOrUnknown() float64 {
	if u.Speed == nil {
		return -1
	}
	return *u.Speed
}
