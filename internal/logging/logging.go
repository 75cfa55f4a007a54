// Package logging configures the process-wide zerolog logger and exposes
// the critical level spec §6.2 requires (debug, info, warning, error,
// critical) — zerolog ships the first four natively; critical is logged at
// the level one step above zerolog's own Fatal through WithLevel, since
// this engine must be able to log a critical condition without the process
// exiting the way zerolog's Fatal() would.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LevelCritical is FatalLevel+1, the same value as zerolog.PanicLevel, so
// the level field of a critical line reads "panic"; Critical adds a
// severity=critical field to tell those lines apart. WithLevel never panics.
const LevelCritical = zerolog.Level(int8(zerolog.FatalLevel) + 1)

// Options configures Init.
type Options struct {
	// Pretty enables the human-readable console writer (dev mode); when
	// false, output is newline-delimited JSON (prod mode).
	Pretty bool
	Output io.Writer
}

// Init builds and returns the process-wide logger. Call once from
// cmd/perpscalpd/main.go before constructing any component.
func Init(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Critical logs at LevelCritical. Secrets must never be passed as a field
// value here — adapters build and discard auth material without ever
// reaching a logger call, the same discipline the teacher's env.go keeps
// by simply never logging loaded secrets.
func Critical(l zerolog.Logger, msg string) *zerolog.Event {
	return l.WithLevel(LevelCritical).Str("severity", "critical").Str("msg", msg)
}

// Component returns a child logger tagged with a component name, the
// convention every internal package uses to self-identify its log lines.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
