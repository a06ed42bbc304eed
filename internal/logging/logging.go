package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level maps LOG_LEVEL values to zerolog levels. Unknown or empty values
// fall back to errors only.
func Level(value string) zerolog.Level {
	switch value {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel // production only shows errors
	}
}

// Init installs the global logger on stderr and returns it.
func Init() zerolog.Logger {
	return InitWriter(os.Stderr, os.Getenv("LOG_LEVEL"))
}

func InitWriter(w io.Writer, level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	l := zerolog.New(out).Level(Level(level)).With().Timestamp().Logger()
	log.Logger = l
	zerolog.DefaultContextLogger = &l
	return l
}
