package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/companion"
	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/pkg/geo"
)

type replayCmd struct {
	routeFlags `embed:""`

	Interval time.Duration `default:"5s" help:"Virtual time between location updates."`
	MaxSteps int           `default:"10000" help:"Stop after this many updates."`

	DetourFrom   float64 `default:"0" help:"Fraction of the route where the trace leaves it."`
	DetourTo     float64 `default:"0" help:"Fraction of the route where the trace rejoins it."`
	DetourMeters float64 `default:"0" help:"Lateral offset of the trace while detouring."`

	Format string `default:"text" enum:"text,json" help:"Output format."`
}

func (c *replayCmd) Run(g *Globals) error {
	return replay(context.Background(), *c, os.Stdout, g.Logger)
}

// replay walks the route at constant speed, advancing the virtual clock
// before every update, until the engine reports arrival.
func replay(ctx context.Context, c replayCmd, out io.Writer, log zerolog.Logger) error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	clock := navigation.NewVirtualClock(c.departure())

	sc, err := buildScenario(ctx, c.routeFlags, clock.Now, log)
	if err != nil {
		return err
	}

	engine := navigation.NewEngine(navigation.Config{
		SessionID: "navsim",
		Clock:     clock,
		Scheduler: clock,
		Logger:    log,
	})
	// The grid follows the trace as it leaves the area scored around the midpoint.
	if err := engine.Start(sc.route, airquality.NewFollower(sc.grid, sc.gridCfg)); err != nil {
		return err
	}
	defer engine.Stop()

	p := newPrinter(c.Format, out)
	if err := p.print(engine.State()); err != nil {
		return err
	}

	cum := geo.CumulativeLengths(sc.points)
	total := cum[len(cum)-1]
	step := c.Speed * c.Interval.Seconds()

	for i, d := 1, step; i <= c.MaxSteps; i, d = i+1, d+step {
		clock.Advance(c.Interval)

		loc := pointAlong(sc.points, cum, d)
		if frac := d / total; c.DetourMeters > 0 && frac >= c.DetourFrom && frac < c.DetourTo {
			loc = geo.Offset(loc, 90, c.DetourMeters)
		}

		state := engine.UpdateUserLocation(loc, c.Speed)
		if err := p.print(state); err != nil {
			return err
		}
		if state.Arrived {
			break
		}
	}
	return p.flush()
}

type printer struct {
	json *json.Encoder
	tw   *tabwriter.Writer
	rows int
}

func newPrinter(format string, out io.Writer) *printer {
	if format == "json" {
		return &printer{json: json.NewEncoder(out)}
	}
	return &printer{tw: tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)}
}

func (p *printer) print(s navigation.State) error {
	snap := companion.SnapshotOf(s)
	if p.json != nil {
		return p.json.Encode(snap)
	}

	if p.rows == 0 {
		fmt.Fprintln(p.tw, "SEQ\tTIME\tPROGRESS\tREMAINING\tETA\tAQI\tALERT\tINSTRUCTION")
	}
	p.rows++

	aqi := "-"
	if snap.AQI != nil {
		aqi = fmt.Sprintf("%.0f (%s)", *snap.AQI, snap.Level)
	}
	alert := string(snap.Alert)
	if alert == "" {
		alert = "-"
	}
	_, err := fmt.Fprintf(p.tw, "%d\t%s\t%.1f%%\t%.0fm\t%s\t%s\t%s\t%s\n",
		snap.Sequence,
		snap.UpdatedAt.Format(time.TimeOnly),
		snap.Progress*100,
		snap.DistanceRemaining,
		(time.Duration(snap.ETASeconds) * time.Second).String(),
		aqi,
		alert,
		snap.Instruction,
	)
	return err
}

func (p *printer) flush() error {
	if p.tw != nil {
		return p.tw.Flush()
	}
	return nil
}
