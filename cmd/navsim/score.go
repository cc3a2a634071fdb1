package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/scoring"
)

type scoreCmd struct {
	routeFlags `embed:""`
}

func (c *scoreCmd) Run(g *Globals) error {
	return score(context.Background(), *c, os.Stdout, g.Logger)
}

type scoreOutput struct {
	DistanceMeters float64          `json:"distanceMeters"`
	Duration       string           `json:"expectedDuration"`
	Segments       int              `json:"segments"`
	AverageAQI     float64          `json:"averageAqi"`
	PeakAQI        float64          `json:"peakAqi"`
	TimeScore      float64          `json:"timeScore"`
	SafetyScore    float64          `json:"safetyScore"`
	AirScore       float64          `json:"airScore"`
	CombinedScore  float64          `json:"combinedScore"`
	Risk           string           `json:"risk"`
	Exposure       scoring.Exposure `json:"exposure"`
	GridZones      int              `json:"gridZones"`
}

func score(ctx context.Context, c scoreCmd, out io.Writer, log zerolog.Logger) error {
	depart := c.departure()
	sc, err := buildScenario(ctx, c.routeFlags, func() time.Time { return depart }, log)
	if err != nil {
		return err
	}

	r := sc.route
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(scoreOutput{
		DistanceMeters: r.Route.DistanceMeters,
		Duration:       r.ExpectedDuration.Round(time.Second).String(),
		Segments:       len(r.Segments),
		AverageAQI:     r.AverageAQI,
		PeakAQI:        r.PeakAQI,
		TimeScore:      r.TimeScore,
		SafetyScore:    r.SafetyScore,
		AirScore:       r.AirScore,
		CombinedScore:  r.CombinedScore,
		Risk:           string(r.Risk),
		Exposure:       r.Exposure,
		GridZones:      sc.grid.Snapshot().Len(),
	})
}
