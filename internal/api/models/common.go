// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"fmt"
	"time"

	"github.com/breatheroute/airnav/pkg/geo"
)

// Point is a WGS84 coordinate in a request or response body.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geo converts p to a geo.Point.
func (p Point) Geo() geo.Point {
	return geo.Point{Lat: p.Lat, Lon: p.Lon}
}

// PointOf converts a geo.Point.
func PointOf(p geo.Point) Point {
	return Point{Lat: p.Lat, Lon: p.Lon}
}

// validatePoint reports missing or out-of-range coordinates of a required field.
func validatePoint(field string, p *Point) []FieldError {
	if p == nil {
		return []FieldError{{Field: field, Message: "is required", Code: "REQUIRED"}}
	}
	var errs []FieldError
	if p.Lat < -90 || p.Lat > 90 {
		errs = append(errs, FieldError{Field: field + ".lat", Message: "must be between -90 and 90", Code: "OUT_OF_RANGE"})
	}
	if p.Lon < -180 || p.Lon > 180 {
		errs = append(errs, FieldError{Field: field + ".lon", Message: "must be between -180 and 180", Code: "OUT_OF_RANGE"})
	}
	return errs
}

// HealthStatus represents the health status of a service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Timestamp formats as RFC 3339 in JSON.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("timestamp must be a string: %s", data)
	}
	parsed, err := time.Parse(time.RFC3339, string(data[1:len(data)-1]))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}
