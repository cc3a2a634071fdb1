package airquality

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/breatheroute/airnav/pkg/geo"
)

// RNG is the random source used by the synthesizer. Implementations must
// return values uniformly distributed in [0, 1).
type RNG interface {
	Float64() float64
}

// LCG is a 64-bit linear congruential generator. It is deterministic for a
// given seed, which keeps synthesized readings reproducible per location.
type LCG struct {
	state uint64
}

// NewLCG returns a generator seeded with seed.
func NewLCG(seed uint64) *LCG {
	return &LCG{state: seed}
}

// Next advances the generator and returns the raw state.
func (l *LCG) Next() uint64 {
	l.state = l.state*6364136223846793005 + 1442695040888963407
	return l.state
}

// Float64 returns the next value in [0, 1).
func (l *LCG) Float64() float64 {
	return float64(l.Next()>>11) / (1 << 53)
}

// zoneClass is a coarse land-use category with its base AQI range.
type zoneClass struct {
	name        string
	minAQI      float64
	maxAQI      float64
	probability float64
}

// zoneClasses are checked in order against a uniform draw; probabilities sum to 1.
var zoneClasses = []zoneClass{
	{"rural-clean", 15, 40, 0.20},
	{"suburban", 30, 70, 0.25},
	{"urban-medium", 50, 100, 0.30},
	{"urban-high", 80, 130, 0.15},
	{"industrial", 100, 150, 0.10},
}

// Synthetic reading bounds.
const (
	synthMinAQI = 10
	synthMaxAQI = 250

	pm25PerAQI   = 0.45
	jitterSpread = 0.15
	pm10MinRatio = 2.2
	pm10MaxRatio = 2.8
)

// SynthesizerConfig configures a Synthesizer.
type SynthesizerConfig struct {
	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Location returns the time zone used for temporal factors (default: time.Local).
	Location *time.Location

	// NewLocationRNG builds the deterministic generator for a coordinate seed
	// (default: NewLCG).
	NewLocationRNG func(seed uint64) RNG

	// Jitter supplies the ±15% measurement jitter (default: a time-seeded PCG).
	Jitter RNG
}

// Synthesizer produces plausible pollutant readings for any point. The base
// level is stable per ~1 km cell, so the same location in the same time band
// yields statistically similar readings.
type Synthesizer struct {
	now            func() time.Time
	loc            *time.Location
	newLocationRNG func(seed uint64) RNG

	mu     sync.Mutex // guards jitter
	jitter RNG
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	s := &Synthesizer{
		now:            cfg.Now,
		loc:            cfg.Location,
		newLocationRNG: cfg.NewLocationRNG,
		jitter:         cfg.Jitter,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.newLocationRNG == nil {
		s.newLocationRNG = func(seed uint64) RNG { return NewLCG(seed) }
	}
	if s.jitter == nil {
		seed := uint64(time.Now().UnixNano())
		s.jitter = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return s
}

// Estimate implements SatelliteSource.
func (s *Synthesizer) Estimate(point geo.Point, extended bool) Reading {
	return s.Generate(point, extended)
}

// Generate returns a reading for point. Extended adds NO2, O3, CO, SO2 and
// aerosol optical depth.
func (s *Synthesizer) Generate(point geo.Point, extended bool) Reading {
	now := s.now()
	rng := s.newLocationRNG(locationSeed(point))

	class := classFor(rng.Float64())
	base := class.minAQI + rng.Float64()*(class.maxAQI-class.minAQI)
	locationFactor := 1 - jitterSpread + rng.Float64()*2*jitterSpread

	aqi := clamp(base*TemporalFactor(now.In(s.loc))*locationFactor, synthMinAQI, synthMaxAQI)

	pm25 := aqi * pm25PerAQI * s.jitterFactor()
	pm10 := pm25 * (pm10MinRatio + s.draw()*(pm10MaxRatio-pm10MinRatio))

	r := Reading{
		Point:      point,
		AQI:        aqi,
		PM25:       pm25,
		PM10:       pm10,
		CapturedAt: now,
		Source:     "synthetic",
	}
	if extended {
		r.Extended = s.extended(aqi)
	}
	return r
}

// extended derives secondary pollutants as linear functions of AQI with
// jitter, each clamped to its physical range.
func (s *Synthesizer) extended(aqi float64) *Extended {
	return &Extended{
		NO2:          clamp((5+aqi*0.4)*s.jitterFactor(), 0, 200),
		O3:           clamp((10+aqi*0.5)*s.jitterFactor(), 0, 300),
		CO:           clamp((0.1+aqi*0.02)*s.jitterFactor(), 0, 50),
		SO2:          clamp((1+aqi*0.1)*s.jitterFactor(), 0, 100),
		AerosolDepth: clamp((0.05+aqi/250)*s.jitterFactor(), 0.01, 3),
	}
}

func (s *Synthesizer) jitterFactor() float64 {
	return 1 - jitterSpread + s.draw()*2*jitterSpread
}

// draw takes the next jitter value. Grids of several sessions share one
// synthesizer.
func (s *Synthesizer) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitter.Float64()
}

// TemporalFactor scales pollution by time of day. Weekends use a flat
// factor; weekdays are banded by hour.
func TemporalFactor(t time.Time) float64 {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return 0.85
	}
	switch h := t.Hour(); {
	case (h >= 7 && h < 9) || (h >= 17 && h < 19):
		return 1.35
	case h >= 11 && h < 14:
		return 1.15
	case h < 5:
		return 0.75
	default:
		return 1.0
	}
}

func classFor(u float64) zoneClass {
	cumulative := 0.0
	for _, c := range zoneClasses {
		cumulative += c.probability
		if u < cumulative {
			return c
		}
	}
	return zoneClasses[len(zoneClasses)-1]
}

// locationSeed hashes coordinates rounded to two decimals (~1.1 km).
func locationSeed(p geo.Point) uint64 {
	lat := int64(math.Round(p.Lat * 100))
	lon := int64(math.Round(p.Lon * 100))

	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(lat >> (8 * i))
		buf[8+i] = byte(lon >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
