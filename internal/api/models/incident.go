package models

import (
	"time"

	"github.com/breatheroute/airnav/internal/incident"
)

// ReportIncidentRequest is the body of POST /v1/incidents.
type ReportIncidentRequest struct {
	Kind        incident.Kind `json:"kind"`
	Point       *Point        `json:"point"`
	Description string        `json:"description,omitempty"`

	// TTLSeconds bounds how long the incident stays active. Zero applies
	// the service default.
	TTLSeconds int `json:"ttlSeconds,omitempty"`
}

// Validate checks kind, point and TTL.
func (r *ReportIncidentRequest) Validate() []FieldError {
	var errs []FieldError
	if !r.Kind.Valid() {
		errs = append(errs, FieldError{Field: "kind", Message: "unknown incident kind", Code: "INVALID"})
	}
	errs = append(errs, validatePoint("point", r.Point)...)
	if r.TTLSeconds < 0 {
		errs = append(errs, FieldError{Field: "ttlSeconds", Message: "must not be negative", Code: "OUT_OF_RANGE"})
	}
	return errs
}

// Incident builds the incident to report at now.
func (r *ReportIncidentRequest) Incident(now time.Time) incident.Incident {
	i := incident.Incident{
		Kind:        r.Kind,
		Point:       r.Point.Geo(),
		Description: r.Description,
		ReportedAt:  now,
	}
	if r.TTLSeconds > 0 {
		expires := now.Add(time.Duration(r.TTLSeconds) * time.Second)
		i.ExpiresAt = &expires
	}
	return i
}

// IncidentReportResponse is the body of a successful POST /v1/incidents.
type IncidentReportResponse struct {
	incident.Incident

	// ResolveToken authorizes DELETE /v1/incidents/{id} for this incident.
	ResolveToken   string    `json:"resolveToken"`
	TokenExpiresAt Timestamp `json:"tokenExpiresAt"`
}

// IncidentsResponse lists active incidents.
type IncidentsResponse struct {
	Incidents []incident.Incident `json:"incidents"`
}
