package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/breatheroute/airnav/internal/routing"
)

var (
	// ErrInvalidWeights is returned when a weight is negative or not finite, or
	// all weights are zero.
	ErrInvalidWeights = errors.New("invalid optimization weights")
	// ErrSuperseded is returned to a caller whose optimization was overtaken by a newer one.
	ErrSuperseded = errors.New("optimization superseded by a newer request")
)

// DefaultMaxAlternatives is used when a config asks for no alternatives.
const DefaultMaxAlternatives = 3

// Mode is the travel mode used for exposure and fallback traverse times.
type Mode string

const (
	ModeWalk Mode = "walk"
	ModeRun  Mode = "run"
	ModeBike Mode = "bike"
)

// Speed returns the mode's nominal speed in meters per second.
func (m Mode) Speed() float64 {
	switch m {
	case ModeRun:
		return 9.0 / 3.6
	case ModeBike:
		return 15.0 / 3.6
	default:
		return 4.8 / 3.6
	}
}

// InhalationFactor scales exposure by breathing rate.
func (m Mode) InhalationFactor() float64 {
	switch m {
	case ModeRun:
		return 1.2
	case ModeBike:
		return 0.9
	default:
		return 1.0
	}
}

// Profile returns the routing profile for the mode.
func (m Mode) Profile() routing.RouteProfile {
	if m == ModeBike {
		return routing.ProfileBike
	}
	return routing.ProfileWalk
}

// Valid reports whether m is a known mode. The empty mode counts as walking.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeWalk, ModeRun, ModeBike:
		return true
	}
	return false
}

// OptimizationConfig weighs time, safety and air quality. Weights are
// normalized by their sum and need not add up to 1.
type OptimizationConfig struct {
	TimeWeight       float64 `json:"timeWeight"`
	SafetyWeight     float64 `json:"safetyWeight"`
	AirQualityWeight float64 `json:"airQualityWeight"`

	// AvoidHighways is informational: route geometry comes from the routing provider.
	AvoidHighways bool `json:"avoidHighways"`

	// ConsiderTrafficPatterns enables rush hour avoidance zones.
	ConsiderTrafficPatterns bool `json:"considerTrafficPatterns"`

	// PredictiveAnalysis projects each segment's AQI to the time the
	// traveller is expected to reach it, using the hourly air forecast
	// when the scorer has one and the diurnal AQI profile otherwise.
	PredictiveAnalysis bool `json:"predictiveAnalysis"`

	MaxAlternatives int `json:"maxAlternatives"`

	Mode Mode `json:"mode,omitempty"`

	// AQIThreshold, when positive, multiplies a route's exposure index by
	// ten if its peak AQI exceeds the threshold.
	AQIThreshold float64 `json:"aqiThreshold,omitempty"`

	// DepartAt anchors predictive analysis (default: now).
	DepartAt time.Time `json:"departAt,omitzero"`
}

// Named presets.
var (
	Fastest    = OptimizationConfig{TimeWeight: 0.7, SafetyWeight: 0.2, AirQualityWeight: 0.1, MaxAlternatives: DefaultMaxAlternatives}
	Safest     = OptimizationConfig{TimeWeight: 0.2, SafetyWeight: 0.6, AirQualityWeight: 0.2, MaxAlternatives: DefaultMaxAlternatives}
	Healthiest = OptimizationConfig{TimeWeight: 0.15, SafetyWeight: 0.15, AirQualityWeight: 0.7, MaxAlternatives: DefaultMaxAlternatives}
	Balanced   = OptimizationConfig{TimeWeight: 0.34, SafetyWeight: 0.33, AirQualityWeight: 0.33, MaxAlternatives: DefaultMaxAlternatives}
)

// Preset returns a named preset.
func Preset(name string) (OptimizationConfig, bool) {
	switch name {
	case "fastest":
		return Fastest, true
	case "safest":
		return Safest, true
	case "healthiest":
		return Healthiest, true
	case "balanced":
		return Balanced, true
	}
	return OptimizationConfig{}, false
}

// Validate rejects non-finite, negative and all-zero weights and unknown modes.
func (c OptimizationConfig) Validate() error {
	for _, w := range [...]float64{c.TimeWeight, c.SafetyWeight, c.AirQualityWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weights must be finite", ErrInvalidWeights)
		}
	}
	if c.TimeWeight < 0 || c.SafetyWeight < 0 || c.AirQualityWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidWeights)
	}
	if c.weightSum() == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidWeights)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown travel mode %q", c.Mode)
	}
	return nil
}

func (c OptimizationConfig) weightSum() float64 {
	return c.TimeWeight + c.SafetyWeight + c.AirQualityWeight
}

func (c OptimizationConfig) withDefaults() OptimizationConfig {
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = DefaultMaxAlternatives
	}
	if c.Mode == "" {
		c.Mode = ModeWalk
	}
	return c
}
