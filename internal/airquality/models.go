// Package airquality fuses satellite-style estimates and ground station
// measurements into a grid of fixed-radius air-quality zones.
package airquality

import (
	"errors"
	"math"
	"time"

	"github.com/breatheroute/airnav/pkg/geo"
)

// Provider errors.
var (
	ErrStationNotFound     = errors.New("station not found")
	ErrNoMeasurements      = errors.New("no measurements available")
	ErrProviderUnavailable = errors.New("air quality provider unavailable")
)

// AQI bounds.
const (
	MinAQI = 0
	MaxAQI = 500

	// DefaultAQI is the "moderate" value used when no reading is available
	// for a location.
	DefaultAQI = 75
)

// Level is a coarse AQI category.
type Level string

const (
	LevelGood      Level = "good"
	LevelModerate  Level = "moderate"
	LevelPoor      Level = "poor"
	LevelUnhealthy Level = "unhealthy"
	LevelSevere    Level = "severe"
	LevelHazardous Level = "hazardous"
)

// LevelForAQI maps an AQI value onto the US EPA category bands.
func LevelForAQI(aqi float64) Level {
	switch {
	case aqi <= 50:
		return LevelGood
	case aqi <= 100:
		return LevelModerate
	case aqi <= 150:
		return LevelPoor
	case aqi <= 200:
		return LevelUnhealthy
	case aqi <= 300:
		return LevelSevere
	default:
		return LevelHazardous
	}
}

// breakpoint maps the concentration band [cLow, cHigh] onto [iLow, iHigh].
type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

// EPA breakpoint tables. Units follow the readings: particulates in µg/m³,
// CO in ppm, the other gases in ppb.
var (
	pm25Breakpoints = []breakpoint{
		{0.0, 12.0, 0, 50},
		{12.1, 35.4, 50, 100},
		{35.5, 55.4, 100, 150},
		{55.5, 150.4, 150, 200},
		{150.5, 250.4, 200, 300},
	}
	pm10Breakpoints = []breakpoint{
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
	}
	o3Breakpoints = []breakpoint{
		{0, 54, 0, 50},
		{55, 70, 51, 100},
		{71, 85, 101, 150},
		{86, 105, 151, 200},
		{106, 200, 201, 300},
	}
	no2Breakpoints = []breakpoint{
		{0, 53, 0, 50},
		{54, 100, 51, 100},
		{101, 360, 101, 150},
		{361, 649, 151, 200},
		{650, 1249, 201, 300},
	}
	coBreakpoints = []breakpoint{
		{0, 4.4, 0, 50},
		{4.5, 9.4, 51, 100},
		{9.5, 12.4, 101, 150},
		{12.5, 15.4, 151, 200},
		{15.5, 30.4, 201, 300},
	}
	so2Breakpoints = []breakpoint{
		{0, 35, 0, 50},
		{36, 75, 51, 100},
		{76, 185, 101, 150},
		{186, 304, 151, 200},
		{305, 604, 201, 300},
	}
)

// subIndex interpolates c within its band. Concentrations above the last
// band map to 301.
func subIndex(table []breakpoint, c float64) float64 {
	if c <= 0 || math.IsNaN(c) {
		return 0
	}
	for _, bp := range table {
		if c <= bp.cHigh {
			c = math.Max(c, bp.cLow)
			return math.Floor(bp.iLow + (c-bp.cLow)*(bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow))
		}
	}
	return 301
}

// AQIFromPM25 converts a PM2.5 concentration in µg/m³ to an AQI value.
// Concentrations above the last breakpoint map to 301.
func AQIFromPM25(pm25 float64) float64 { return subIndex(pm25Breakpoints, pm25) }

// AQIFromPM10 converts a PM10 concentration in µg/m³ to an AQI value.
func AQIFromPM10(pm10 float64) float64 { return subIndex(pm10Breakpoints, pm10) }

// AQIFromO3 converts an O3 concentration in ppb to an AQI value.
func AQIFromO3(ppb float64) float64 { return subIndex(o3Breakpoints, ppb) }

// AQIFromNO2 converts an NO2 concentration in ppb to an AQI value.
func AQIFromNO2(ppb float64) float64 { return subIndex(no2Breakpoints, ppb) }

// AQIFromCO converts a CO concentration in ppm to an AQI value.
func AQIFromCO(ppm float64) float64 { return subIndex(coBreakpoints, ppm) }

// AQIFromSO2 converts an SO2 concentration in ppb to an AQI value.
func AQIFromSO2(ppb float64) float64 { return subIndex(so2Breakpoints, ppb) }

// ClampAQI bounds an AQI value to [MinAQI, MaxAQI].
func ClampAQI(aqi float64) float64 {
	return clamp(aqi, MinAQI, MaxAQI)
}

// Extended holds the optional pollutants produced for extended readings.
type Extended struct {
	NO2          float64 `json:"no2"`          // ppb
	O3           float64 `json:"o3"`           // ppb
	CO           float64 `json:"co"`           // ppm
	SO2          float64 `json:"so2"`          // ppb
	AerosolDepth float64 `json:"aerosolDepth"` // unitless optical depth
}

// Reading is a point pollutant reading. Readings are values and are never
// modified after they are produced.
type Reading struct {
	Point      geo.Point `json:"point"`
	AQI        float64   `json:"aqi"`
	PM25       float64   `json:"pm25"`
	PM10       float64   `json:"pm10"`
	Extended   *Extended `json:"extended,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
	Source     string    `json:"source,omitempty"`
}

// Level returns the AQI category of the reading.
func (r Reading) Level() Level {
	return LevelForAQI(r.AQI)
}

// Zone is a fixed-radius circular cell carrying one fused reading.
type Zone struct {
	ID         string    `json:"id"`
	Center     geo.Point `json:"center"`
	Radius     float64   `json:"radius"` // meters
	Reading    Reading   `json:"reading"`
	Confidence float64   `json:"confidence"`
}

// AQI is shorthand for the fused reading's AQI.
func (z Zone) AQI() float64 {
	return z.Reading.AQI
}

// Level returns the AQI category of the zone.
func (z Zone) Level() Level {
	return z.Reading.Level()
}

// Pollutant represents a ground-station pollutant type.
type Pollutant string

const (
	PollutantNO2  Pollutant = "NO2"
	PollutantPM25 Pollutant = "PM25"
	PollutantPM10 Pollutant = "PM10"
	PollutantO3   Pollutant = "O3"
	PollutantCO   Pollutant = "CO"
	PollutantSO2  Pollutant = "SO2"
)

// Mass to volume conversions at 25°C for ground feeds reporting µg/m³.
const (
	no2PerPPB = 1.88
	o3PerPPB  = 1.96
	so2PerPPB = 2.62
	coPerPPM  = 1145
)

// Concentrations are pollutant mass concentrations in µg/m³ as reported by
// modelled forecasts. Zero means not reported.
type Concentrations struct {
	PM25 float64 `json:"pm25"`
	PM10 float64 `json:"pm10"`
	NO2  float64 `json:"no2"`
	O3   float64 `json:"o3"`
	CO   float64 `json:"co"`
	SO2  float64 `json:"so2"`
}

// AQI returns the highest sub-index over the reported pollutants, and false
// when none is reported.
func (c Concentrations) AQI() (float64, bool) {
	subs := [...]struct {
		v  float64
		fn func(float64) float64
	}{
		{c.PM25, AQIFromPM25},
		{c.PM10, AQIFromPM10},
		{c.NO2 / no2PerPPB, AQIFromNO2},
		{c.O3 / o3PerPPB, AQIFromO3},
		{c.CO / coPerPPM, AQIFromCO},
		{c.SO2 / so2PerPPB, AQIFromSO2},
	}
	aqi, found := 0.0, false
	for _, s := range subs {
		if s.v <= 0 {
			continue
		}
		aqi, found = math.Max(aqi, s.fn(s.v)), true
	}
	return aqi, found
}

// Station is a ground monitoring station.
type Station struct {
	ID         string
	Name       string
	Lat        float64
	Lon        float64
	Pollutants []Pollutant
	UpdatedAt  time.Time
}

// Point returns the station location.
func (s *Station) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lon: s.Lon}
}

// Measurement is a single pollutant measurement at a station.
type Measurement struct {
	StationID  string
	Pollutant  Pollutant
	Value      float64 // µg/m³
	Unit       string
	MeasuredAt time.Time
}

// StationSnapshot is a point-in-time view of all stations and their latest
// measurements as returned by a ground feed.
type StationSnapshot struct {
	Stations map[string]*Station

	// Measurements keyed by "stationID:pollutant".
	Measurements map[string]*Measurement

	FetchedAt time.Time
	Provider  string
}

// NewStationSnapshot creates an empty snapshot.
func NewStationSnapshot(provider string) *StationSnapshot {
	return &StationSnapshot{
		Stations:     make(map[string]*Station),
		Measurements: make(map[string]*Measurement),
		FetchedAt:    time.Now(),
		Provider:     provider,
	}
}

// GetMeasurement returns the latest measurement of pollutant at a station.
func (s *StationSnapshot) GetMeasurement(stationID string, pollutant Pollutant) *Measurement {
	return s.Measurements[stationID+":"+string(pollutant)]
}

// SetMeasurement adds or replaces a measurement.
func (s *StationSnapshot) SetMeasurement(m *Measurement) {
	s.Measurements[m.StationID+":"+string(m.Pollutant)] = m
}

// Reading converts a station's latest measurements into a Reading. The AQI is
// the highest sub-index over the pollutants the station reports; stations
// without any known pollutant report ok=false.
func (s *StationSnapshot) Reading(stationID string) (Reading, bool) {
	station, ok := s.Stations[stationID]
	if !ok {
		return Reading{}, false
	}

	r := Reading{Point: station.Point(), Source: s.Provider}
	found := false
	var ext Extended
	extended := false

	for _, p := range []Pollutant{PollutantPM25, PollutantPM10, PollutantNO2, PollutantO3, PollutantCO, PollutantSO2} {
		m := s.GetMeasurement(stationID, p)
		if m == nil {
			continue
		}
		found = true
		if m.MeasuredAt.After(r.CapturedAt) {
			r.CapturedAt = m.MeasuredAt
		}

		var sub float64
		switch p {
		case PollutantPM25:
			r.PM25 = m.Value
			sub = AQIFromPM25(m.Value)
		case PollutantPM10:
			r.PM10 = m.Value
			sub = AQIFromPM10(m.Value)
		case PollutantNO2:
			ext.NO2, extended = m.Value/no2PerPPB, true
			sub = AQIFromNO2(ext.NO2)
		case PollutantO3:
			ext.O3, extended = m.Value/o3PerPPB, true
			sub = AQIFromO3(ext.O3)
		case PollutantCO:
			ext.CO, extended = m.Value/coPerPPM, true
			sub = AQIFromCO(ext.CO)
		case PollutantSO2:
			ext.SO2, extended = m.Value/so2PerPPB, true
			sub = AQIFromSO2(ext.SO2)
		}
		r.AQI = math.Max(r.AQI, sub)
	}
	if !found {
		return Reading{}, false
	}
	if extended {
		r.Extended = &ext
	}
	return r, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
