// Package weather provides current conditions, hourly forecasts and the
// hourly air quality outlook for a location.
package weather

import (
	"errors"
	"math"
	"time"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/pkg/geo"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Observation is the weather at a point and time.
type Observation struct {
	Point geo.Point

	Temperature float64 // °C
	FeelsLike   float64 // °C
	Humidity    float64 // percent

	WindSpeed     float64 // m/s
	WindDirection float64 // degrees, 0=N
	WindGust      float64 // m/s, 0 when not reported

	Pressure    float64 // hPa
	Condition   Condition
	Description string
	CloudCover  float64 // percent
	Visibility  float64 // meters

	ObservedAt time.Time
	FetchedAt  time.Time
}

// Condition is the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// WindCategory groups wind speeds by how well they disperse pollution.
type WindCategory string

const (
	WindCalm     WindCategory = "CALM"     // < 1 m/s
	WindLight    WindCategory = "LIGHT"    // 1-3 m/s
	WindModerate WindCategory = "MODERATE" // 3-8 m/s
	WindStrong   WindCategory = "STRONG"   // > 8 m/s
)

// WindCategoryFor returns the category of a wind speed in m/s.
func WindCategoryFor(speed float64) WindCategory {
	switch {
	case speed < 1:
		return WindCalm
	case speed < 3:
		return WindLight
	case speed < 8:
		return WindModerate
	default:
		return WindStrong
	}
}

// WindCategory returns the observation's wind category.
func (o *Observation) WindCategory() WindCategory {
	return WindCategoryFor(o.WindSpeed)
}

// DispersionFactor is a multiplier on pollution levels: calm air lets
// pollutants accumulate, strong wind clears them.
func (o *Observation) DispersionFactor() float64 {
	switch o.WindCategory() {
	case WindCalm:
		return 1.3
	case WindLight:
		return 1.1
	case WindModerate:
		return 0.9
	default:
		return 0.7
	}
}

// Forecast is an hourly weather forecast.
type Forecast struct {
	Point     geo.Point
	Hourly    []HourlyForecast
	FetchedAt time.Time
}

// HourlyForecast is the weather for one forecast hour.
type HourlyForecast struct {
	Time          time.Time
	Temperature   float64
	FeelsLike     float64
	Humidity      float64
	WindSpeed     float64
	WindDirection float64
	WindGust      float64
	Condition     Condition
	Description   string
	CloudCover    float64
	Visibility    float64
	PrecipProb    float64 // 0-1
	Rain          float64 // mm in the hour
}

// Within returns the hours that end within (from, from+d]: the hour in
// progress at from and those following it.
func (f *Forecast) Within(from time.Time, d time.Duration) []HourlyForecast {
	end := from.Add(d)
	out := make([]HourlyForecast, 0, len(f.Hourly))
	for _, h := range f.Hourly {
		if ends := h.Time.Add(time.Hour); !ends.After(from) || ends.After(end) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// AirForecast is an hourly air quality outlook.
type AirForecast struct {
	Point     geo.Point
	Hourly    []AirHour // ascending by Time
	FetchedAt time.Time
}

// AirHour is the modelled air quality for one forecast hour.
type AirHour struct {
	Time time.Time

	// Index is the provider's coarse 1 (good) to 5 (very poor) scale.
	Index int

	// AQI is the US AQI derived from Concentrations, or from Index when
	// the provider reports no concentrations.
	AQI            float64
	Concentrations airquality.Concentrations
}

// indexAQI maps the 1-5 index onto the middle of the matching AQI band.
var indexAQI = map[int]float64{1: 25, 2: 75, 3: 125, 4: 175, 5: 250}

// NewAirHour derives the hour's AQI from its concentrations, falling back to
// the coarse index.
func NewAirHour(at time.Time, index int, c airquality.Concentrations) AirHour {
	aqi, ok := c.AQI()
	if !ok {
		aqi = indexAQI[index]
	}
	return AirHour{Time: at, Index: index, AQI: aqi, Concentrations: c}
}

// AQIAt returns the AQI of the forecast hour containing t.
func (f *AirForecast) AQIAt(t time.Time) (float64, bool) {
	if f == nil {
		return 0, false
	}
	for i := len(f.Hourly) - 1; i >= 0; i-- {
		h := f.Hourly[i]
		if h.Time.After(t) {
			continue
		}
		if t.Sub(h.Time) >= time.Hour {
			return 0, false
		}
		return h.AQI, true
	}
	return 0, false
}

// AirStats summarizes the AQI over a window of forecast hours.
type AirStats struct {
	Average float64
	Max     float64
	Min     float64
	Hours   []AirHour
}

// Window summarizes the hours that end within (from, from+d]. It reports
// false when there are none.
func (f *AirForecast) Window(from time.Time, d time.Duration) (AirStats, bool) {
	end := from.Add(d)
	stats := AirStats{Min: math.Inf(1)}
	sum := 0.0
	for _, h := range f.Hourly {
		if ends := h.Time.Add(time.Hour); !ends.After(from) || ends.After(end) {
			continue
		}
		stats.Hours = append(stats.Hours, h)
		sum += h.AQI
		stats.Max = math.Max(stats.Max, h.AQI)
		stats.Min = math.Min(stats.Min, h.AQI)
	}
	if len(stats.Hours) == 0 {
		return AirStats{}, false
	}
	stats.Average = math.Floor(sum / float64(len(stats.Hours)))
	return stats, true
}
