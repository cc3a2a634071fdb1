// Package scoring ranks candidate routes by travel time, road safety and
// pollutant exposure, evaluated segment by segment.
package scoring

import (
	"time"

	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/pkg/geo"
)

// Neutral values for degenerate input.
const (
	NeutralScore = 50.0
	NeutralAQI   = 75.0
)

// EvaluatedSegment is one scored pair of consecutive sampled points.
type EvaluatedSegment struct {
	Start       geo.Point     `json:"start"`
	End         geo.Point     `json:"end"`
	Length      float64       `json:"length"` // meters
	Duration    time.Duration `json:"duration"`
	AQI         float64       `json:"aqi"`
	SafetyScore float64       `json:"safetyScore"`
	AirScore    float64       `json:"airScore"`
	Combined    float64       `json:"combinedScore"`
	Exposure    float64       `json:"exposure"`
	Hazards     []string      `json:"hazards,omitempty"`
}

// RiskLevel is a discrete classification of a route's safety score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskSevere   RiskLevel = "severe"
)

// RiskForSafety maps a safety score onto a risk level.
func RiskForSafety(safety float64) RiskLevel {
	switch {
	case safety >= 80:
		return RiskLow
	case safety >= 60:
		return RiskModerate
	case safety >= 40:
		return RiskHigh
	default:
		return RiskSevere
	}
}

// IncidentSummary describes the incidents near a route.
type IncidentSummary struct {
	Total    int                   `json:"total"`
	ByKind   map[incident.Kind]int `json:"byKind,omitempty"`
	Critical []string              `json:"critical,omitempty"` // zone IDs
}

// Exposure is the inhaled-dose index of a route.
type Exposure struct {
	Index             float64 `json:"index"`
	Mode              Mode    `json:"mode"`
	ThresholdExceeded bool    `json:"thresholdExceeded"`
}

// ScoredRoute wraps a candidate route with its scores. Ranking depends only
// on these fields.
type ScoredRoute struct {
	Route            routing.Route      `json:"route"`
	Rank             int                `json:"rank"`
	Segments         []EvaluatedSegment `json:"segments,omitempty"`
	ExpectedDuration time.Duration      `json:"expectedDuration"`
	AverageAQI       float64            `json:"averageAqi"`
	PeakAQI          float64            `json:"peakAqi"`
	TimeScore        float64            `json:"timeScore"`
	SafetyScore      float64            `json:"safetyScore"`
	AirScore         float64            `json:"airScore"`
	CombinedScore    float64            `json:"combinedScore"`
	Incidents        IncidentSummary    `json:"incidents"`
	Risk             RiskLevel          `json:"risk"`
	Exposure         Exposure           `json:"exposure"`
}
