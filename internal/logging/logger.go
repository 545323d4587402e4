package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Dev gets a console writer, everything else
// gets JSON lines with caller info.
func New(service, env string) zerolog.Logger {
	return newWithWriter(service, env, os.Stdout)
}

func newWithWriter(service, env string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("service", service).
			Logger().
			Level(zerolog.DebugLevel)
	}

	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger().
		Level(zerolog.InfoLevel)
}
