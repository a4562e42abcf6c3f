// Package logger holds the engine's global structured logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const service = "roomwatch"

// Logger is the global logger. It discards everything until Init runs.
var Logger = zerolog.Nop()

// Init sets the global level and writes JSON to stdout, or colored console
// lines when ENV=development. Unknown levels fall back to info.
func Init(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if os.Getenv("ENV") == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()
	Logger.Info().Str("level", lvl.String()).Msg("logger ready")
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSensor returns a component logger scoped to one sensor.
func WithSensor(component, sensorID string) zerolog.Logger {
	return Logger.With().
		Str("component", component).
		Str("sensor_id", sensorID).
		Logger()
}
