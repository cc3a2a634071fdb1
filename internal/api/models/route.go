package models

import (
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/pkg/geo"
)

// OptimizeRequest is the body of POST /v1/routes:optimize.
type OptimizeRequest struct {
	// ClientID scopes supersession: a newer request with the same ID
	// cancels an older one still running.
	ClientID    string `json:"clientId"`
	Origin      *Point `json:"origin"`
	Destination *Point `json:"destination"`

	// Preset names a weight preset: fastest, safest, healthiest or balanced
	// (default).
	Preset string `json:"preset,omitempty"`

	// Config, when set, replaces the preset.
	Config *scoring.OptimizationConfig `json:"config,omitempty"`
}

// Validate checks required fields and resolves the optimization config.
func (r *OptimizeRequest) Validate() (scoring.OptimizationConfig, []FieldError) {
	var errs []FieldError
	if r.ClientID == "" {
		errs = append(errs, FieldError{Field: "clientId", Message: "is required", Code: "REQUIRED"})
	}
	errs = append(errs, validatePoint("origin", r.Origin)...)
	errs = append(errs, validatePoint("destination", r.Destination)...)

	cfg := scoring.Balanced
	if r.Preset != "" {
		preset, ok := scoring.Preset(r.Preset)
		if !ok {
			errs = append(errs, FieldError{Field: "preset", Message: "unknown preset", Code: "INVALID"})
		}
		cfg = preset
	}
	if r.Config != nil {
		cfg = *r.Config
		if err := cfg.Validate(); err != nil {
			errs = append(errs, FieldError{Field: "config", Message: err.Error(), Code: "INVALID"})
		}
	}
	return cfg, errs
}

// OptimizeResponse is the ranked route list of one optimization.
type OptimizeResponse struct {
	Generation uint64        `json:"generation"`
	ComputedAt Timestamp     `json:"computedAt"`
	Routes     []RouteOption `json:"routes"`
}

// RouteOption is one scored candidate route.
type RouteOption struct {
	ID              string  `json:"id"`
	Rank            int     `json:"rank"`
	Summary         string  `json:"summary,omitempty"`
	Polyline        string  `json:"polyline"`
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`

	TimeScore     float64 `json:"timeScore"`
	SafetyScore   float64 `json:"safetyScore"`
	AirScore      float64 `json:"airScore"`
	CombinedScore float64 `json:"combinedScore"`

	AverageAQI float64                 `json:"averageAqi"`
	PeakAQI    float64                 `json:"peakAqi"`
	Risk       scoring.RiskLevel       `json:"risk"`
	Exposure   scoring.Exposure        `json:"exposure"`
	Incidents  scoring.IncidentSummary `json:"incidents"`
	Steps      []Instruction           `json:"steps,omitempty"`
}

// Instruction is one maneuver of a route.
type Instruction struct {
	Point       Point   `json:"point"`
	Maneuver    string  `json:"maneuver"`
	Instruction string  `json:"instruction"`
	Distance    float64 `json:"distanceMeters"`
}

// RouteOptionOf converts a scored route.
func RouteOptionOf(r scoring.ScoredRoute) RouteOption {
	opt := RouteOption{
		ID:              r.Route.ID,
		Rank:            r.Rank,
		Summary:         r.Route.Summary,
		Polyline:        r.Route.Polyline,
		DistanceMeters:  r.Route.DistanceMeters,
		DurationSeconds: r.ExpectedDuration.Seconds(),
		TimeScore:       r.TimeScore,
		SafetyScore:     r.SafetyScore,
		AirScore:        r.AirScore,
		CombinedScore:   r.CombinedScore,
		AverageAQI:      r.AverageAQI,
		PeakAQI:         r.PeakAQI,
		Risk:            r.Risk,
		Exposure:        r.Exposure,
		Incidents:       r.Incidents,
	}
	if opt.Polyline == "" {
		opt.Polyline = geo.Encode(r.Route.Coordinates)
	}
	for _, s := range r.Route.Steps {
		opt.Steps = append(opt.Steps, Instruction{
			Point:       PointOf(s.Point),
			Maneuver:    string(s.Maneuver),
			Instruction: s.Instruction,
			Distance:    s.DistanceMeters,
		})
	}
	return opt
}

// OptimizeResponseOf converts an optimizer result.
func OptimizeResponseOf(res *scoring.Result) OptimizeResponse {
	out := OptimizeResponse{
		Generation: res.Generation,
		ComputedAt: Timestamp(res.ComputedAt),
		Routes:     make([]RouteOption, 0, len(res.Routes)),
	}
	for _, r := range res.Routes {
		out.Routes = append(out.Routes, RouteOptionOf(r))
	}
	return out
}
