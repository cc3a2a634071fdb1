// Command navsim replays a simulated trace along a route through the
// navigation engine on virtual time and prints every snapshot.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
)

// Version is set at compile time via ldflags.
var Version = "dev"

// Globals are bound into every command's Run.
type Globals struct {
	Logger zerolog.Logger
}

type cli struct {
	LogLevel string           `default:"warn" enum:"debug,info,warn,error" env:"NAVSIM_LOG_LEVEL" help:"Log level for engine output on stderr."`
	Version  kong.VersionFlag `help:"Print version and exit."`

	Replay replayCmd `cmd:"" default:"withargs" help:"Walk a route and print navigation snapshots."`
	Score  scoreCmd  `cmd:"" help:"Score a route against a synthesized air quality grid."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("navsim"),
		kong.Description("Replay navigation sessions against synthesized air quality."),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()

	kctx.FatalIfErrorf(kctx.Run(&Globals{Logger: log}))
}
